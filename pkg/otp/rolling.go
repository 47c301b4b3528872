package otp

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-ctap/otphid/pkg/crc16"
	"github.com/go-ctap/otphid/pkg/otptypes"
)

// rollingBlockSize is the emitted token: 6 clear fixed bytes followed by
// one encrypted AES block.
const rollingBlockSize = 6 + 16

// buildRollingBlock assembles the 22-byte plaintext token: fixed prefix,
// uid, LE16 use counter, 3-byte half-resolution timestamp, session
// sub-counter, 2 random filler bytes and the complemented CRC over the
// 14 bytes after the prefix.
func buildRollingBlock(cfg *otptypes.SlotConfig, counter uint16, since time.Duration, session byte, rnd io.Reader) ([]byte, error) {
	block := make([]byte, 0, rollingBlockSize)
	block = append(block, cfg.FixedData[:6]...)
	block = append(block, cfg.UID[:]...)
	block = binary.LittleEndian.AppendUint16(block, counter)

	ts := uint32(since/time.Second) >> 1
	block = append(block, byte(ts), byte(ts>>8), byte(ts>>16))
	block = append(block, session)

	filler := make([]byte, 2)
	if _, err := io.ReadFull(rnd, filler); err != nil {
		return nil, fmt.Errorf("otp: reading token filler: %w", err)
	}
	block = append(block, filler...)

	crc := ^crc16.Checksum(block[6:])
	return binary.LittleEndian.AppendUint16(block, crc), nil
}

// generateRolling emits one rolling OTP and advances the persistent use
// counter when the session sub-counter wraps (or on first use of a fresh
// slot). The counter freezes at counterCap.
func (e *Engine) generateRolling(slot Slot, sd *slotData) error {
	counter := binary.BigEndian.Uint16(sd.state()[:2])
	updateCounter := false
	if counter == 0 {
		counter = 1
		updateCounter = true
	}

	block, err := buildRollingBlock(sd.cfg, counter, e.clock(), e.sessionCounter[slot-1], e.rand)
	if err != nil {
		return err
	}

	cipher, err := aes.NewCipher(sd.cfg.AESKey[:])
	if err != nil {
		return fmt.Errorf("otp: rolling OTP cipher: %w", err)
	}
	cipher.Encrypt(block[6:], block[6:])

	e.keyboard.Write(EncodeModhex(block), true)
	if sd.cfg.TktFlags&otptypes.APPEND_CR != 0 {
		e.keyboard.Append([]byte{'\r'})
	}

	e.sessionCounter[slot-1]++
	if e.sessionCounter[slot-1] == 0 && counter < counterCap {
		counter++
		updateCounter = true
	}
	if !updateCounter {
		return nil
	}

	binary.BigEndian.PutUint16(sd.state()[:2], counter)
	return e.persistState(slot, sd.blob)
}

// generateStatic emits the fixed span of the record as-is. The historical
// SHORT_TICKET halving is not applied; the full 38 bytes are sent for
// both static flags.
func (e *Engine) generateStatic(sd *slotData) {
	span := make([]byte, 0, otptypes.FixedSize+otptypes.UIDSize+otptypes.KeySize)
	span = append(span, sd.cfg.FixedData[:]...)
	span = append(span, sd.cfg.UID[:]...)
	span = append(span, sd.cfg.AESKey[:]...)

	e.keyboard.Write(span, false)
	if sd.cfg.TktFlags&otptypes.APPEND_CR != 0 {
		// Untranslated output terminates with the HID usage code for Enter.
		e.keyboard.Append([]byte{0x28})
	}
}
