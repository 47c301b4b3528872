package otphid

import "errors"

var (
	ErrPayloadTooLarge    = errors.New("otphid: payload exceeds frame capacity")
	ErrResponseIncomplete = errors.New("otphid: response terminator not seen")
	ErrResponseIntegrity  = errors.New("otphid: response CRC residual mismatch")
)
