package storage

import (
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/mo"
)

var encMode, _ = cbor.CTAP2EncOptions().EncMode()

// MemStore is a Store backed by a map, with an optional snapshot file so
// the emulator survives restarts. Commits are counted, which lets tests
// assert the at-most-one-commit-per-mutation contract.
type MemStore struct {
	files   map[FileID][]byte
	path    string
	dirty   bool
	commits int
}

// NewMemStore creates an empty volatile store.
func NewMemStore() *MemStore {
	return &MemStore{files: make(map[FileID][]byte)}
}

// OpenMemStore loads a snapshot from path, or starts empty when the file
// does not exist yet. Commits rewrite the snapshot.
func OpenMemStore(path string) (*MemStore, error) {
	s := NewMemStore()
	s.path = path

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := s.restore(f); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemStore) Exists(id FileID) bool {
	return len(s.files[id]) > 0
}

func (s *MemStore) Read(id FileID) mo.Option[[]byte] {
	data, ok := s.files[id]
	if !ok || len(data) == 0 {
		return mo.None[[]byte]()
	}
	out := make([]byte, len(data))
	copy(out, data)
	return mo.Some(out)
}

func (s *MemStore) Write(id FileID, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	s.files[id] = stored
	s.dirty = true
	return nil
}

func (s *MemStore) Delete(id FileID) error {
	if _, ok := s.files[id]; !ok {
		return nil
	}
	delete(s.files, id)
	s.dirty = true
	return nil
}

func (s *MemStore) CommitPending() error {
	if !s.dirty {
		return nil
	}
	s.dirty = false
	s.commits++

	if s.path == "" {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	if err := s.snapshot(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Commits returns how many times CommitPending flushed pending writes.
func (s *MemStore) Commits() int {
	return s.commits
}

func (s *MemStore) snapshot(w io.Writer) error {
	return encMode.NewEncoder(w).Encode(s.files)
}

func (s *MemStore) restore(r io.Reader) error {
	return cbor.NewDecoder(r).Decode(&s.files)
}
