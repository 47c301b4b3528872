// Package storage defines the persistent key-value file interface the OTP
// application consumes, together with an in-memory implementation used by
// tests, the emulator and host-side tooling.
package storage

import "github.com/samber/mo"

// FileID identifies a stored object.
type FileID uint16

const (
	EF_OTP_SLOT1 FileID = 0xE101
	EF_OTP_SLOT2 FileID = 0xE102
	EF_DEV_CONF  FileID = 0xE011
)

// Store is the durable byte-blob storage consumed by the engine. Writes
// may be buffered by the implementation; CommitPending is raised once
// after the zero or more mutations of a single logical operation, never
// per byte.
type Store interface {
	// Exists reports whether the file holds data.
	Exists(id FileID) bool

	// Read returns a copy of the file contents, or None when absent.
	Read(id FileID) mo.Option[[]byte]

	// Write replaces the file contents, creating the file if needed.
	Write(id FileID, data []byte) error

	// Delete removes the file. Deleting an absent file is a no-op.
	Delete(id FileID) error

	// CommitPending flushes buffered writes to durable storage.
	CommitPending() error
}
