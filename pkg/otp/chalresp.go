package otp

import (
	"context"
	"crypto/aes"
	"fmt"

	"github.com/go-ctap/otphid/pkg/otptypes"
)

// challengeLen is the fixed host challenge size carried by a frame.
const challengeLen = 64

// waitForButton blocks until the external confirmation arrives. Without
// an installed waiter, confirmation is immediate.
func (e *Engine) waitForButton(ctx context.Context) error {
	if e.button == nil {
		return nil
	}
	if err := e.button.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrButtonTimeout, err)
	}
	return nil
}

// challengeHMAC answers the HMAC-SHA1 variant: key is secret+uid, the
// challenge is optionally trimmed of trailing padding, the raw 20-byte
// digest is returned.
func challengeHMAC(cfg *otptypes.SlotConfig, challenge []byte) []byte {
	key := make([]byte, 0, otptypes.KeySize+otptypes.UIDSize)
	key = append(key, cfg.AESKey[:]...)
	key = append(key, cfg.UID[:]...)

	n := challengeLen
	if cfg.CfgFlags&otptypes.HMAC_LT64 != 0 {
		for n > 0 && challenge[challengeLen-1] == challenge[n-1] {
			n--
		}
	}
	return hmacSHA1(key, challenge[:n])
}

// challengeYubico answers the legacy AES variant: 6 challenge bytes plus
// the 10-byte serial string, encrypted as one AES-128 block.
func challengeYubico(cfg *otptypes.SlotConfig, challenge, serialStr []byte) ([]byte, error) {
	cipher, err := aes.NewCipher(cfg.AESKey[:])
	if err != nil {
		return nil, fmt.Errorf("otp: challenge cipher: %w", err)
	}

	block := make([]byte, 0, 16)
	block = append(block, challenge[:6]...)
	block = append(block, serialStr[:10]...)

	out := make([]byte, 16)
	cipher.Encrypt(out, block)
	return out, nil
}
