package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"github.com/go-ctap/otphid/pkg/otptypes"
)

// hmacSHA1 is the HMAC primitive shared by the event-counter and
// challenge-response paths.
func hmacSHA1(key, message []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// dynamicTruncate applies the RFC 4226 truncation to a 20-byte digest.
func dynamicTruncate(digest []byte) uint32 {
	offset := digest[len(digest)-1] & 0xF
	return binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7FFFFFFF
}

// hotpKey derives the 18-byte HMAC key from the slot secret.
func hotpKey(cfg *otptypes.SlotConfig) []byte {
	key := make([]byte, 0, 2+otptypes.KeySize)
	key = append(key, 0x01, 0x00)
	return append(key, cfg.AESKey[:]...)
}

// generateEventCounter emits one HOTP code and persists the incremented
// 64-bit counter. A zero stored counter is seeded from the last two uid
// bytes.
func (e *Engine) generateEventCounter(slot Slot, sd *slotData) error {
	counter := binary.BigEndian.Uint64(sd.state()[:8])
	if counter == 0 {
		counter = uint64(binary.BigEndian.Uint16(sd.cfg.UID[4:6]))
	}

	var message [8]byte
	binary.BigEndian.PutUint64(message[:], counter)
	code := dynamicTruncate(hmacSHA1(hotpKey(sd.cfg), message[:]))

	digits := 6
	modulus := uint32(1_000_000)
	if sd.cfg.CfgFlags&otptypes.OATH_HOTP8 != 0 {
		digits = 8
		modulus = 100_000_000
	}
	e.keyboard.Write(fmt.Appendf(nil, "%0*d", digits, code%modulus), true)

	counter++
	binary.BigEndian.PutUint64(sd.state()[:8], counter)
	if err := e.persistState(slot, sd.blob); err != nil {
		return err
	}

	if sd.cfg.TktFlags&otptypes.APPEND_CR != 0 {
		e.keyboard.Append([]byte{'\r'})
	}
	return nil
}
