package provision

import "errors"

var (
	ErrNoSlots       = errors.New("provision: no slots declared")
	ErrBadSlotNumber = errors.New("provision: slot number out of range")
	ErrBadSpec       = errors.New("provision: invalid slot description")
)
