package otp

// KeyboardWriter receives device-initiated output. Implementations map it
// onto the keyboard-emulation endpoint; translate marks ASCII payloads
// that still need conversion to HID usage codes, as opposed to bytes
// emitted as-is.
type KeyboardWriter interface {
	Write(data []byte, translate bool)
	Append(data []byte)
}

// Buffer is a KeyboardWriter that captures output, used by tests and the
// emulator.
type Buffer struct {
	data []byte
}

func (b *Buffer) Write(data []byte, translate bool) {
	b.data = append(b.data, data...)
}

func (b *Buffer) Append(data []byte) {
	b.data = append(b.data, data...)
}

// Bytes returns everything written since the last Reset.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Reset() {
	b.data = nil
}
