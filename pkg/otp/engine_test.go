package otp

import (
	"context"
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/otphid/pkg/crc16"
	"github.com/go-ctap/otphid/pkg/otptypes"
	"github.com/go-ctap/otphid/pkg/storage"
)

// expectedRolling assembles the reference token for fixed inputs, from
// the documented layout and stdlib AES.
func expectedRolling(t *testing.T, cfg *otptypes.SlotConfig, counter uint16, session byte, filler byte) []byte {
	t.Helper()

	block := make([]byte, 0, 22)
	block = append(block, cfg.FixedData[:6]...)
	block = append(block, cfg.UID[:]...)
	block = binary.LittleEndian.AppendUint16(block, counter)
	block = append(block, 0, 0, 0) // timestamp frozen at boot
	block = append(block, session, filler, filler)
	block = binary.LittleEndian.AppendUint16(block, ^crc16.Checksum(block[6:]))

	cipher, err := aes.NewCipher(cfg.AESKey[:])
	require.NoError(t, err)
	cipher.Encrypt(block[6:], block[6:])

	return EncodeModhex(block)
}

func TestRollingOTPVector(t *testing.T) {
	e, store, kb := newTestEngine(t)

	cfg := newSlotConfig(otptypes.APPEND_CR, 0)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	require.NoError(t, e.ButtonPressed(Slot1))

	// A fresh slot's counter reads as zero and starts at 1.
	want := expectedRolling(t, cfg, 1, 0, 0x42)
	require.Len(t, want, 44)
	assert.Equal(t, append(want, '\r'), kb.Bytes())

	blob := store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(blob[otptypes.ConfigSize:]))

	// The second generation within the boot advances only the session
	// sub-counter.
	kb.Reset()
	require.NoError(t, e.ButtonPressed(Slot1))
	assert.Equal(t, append(expectedRolling(t, cfg, 1, 1, 0x42), '\r'), kb.Bytes())
}

func TestRollingCounterPersistsOnSessionWrap(t *testing.T) {
	e, store, kb := newTestEngine(t)

	cfg := newSlotConfig(0, 0) // no CR
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	for i := 0; i < 256; i++ {
		kb.Reset()
		require.NoError(t, e.ButtonPressed(Slot1))
		assert.Len(t, kb.Bytes(), 44)
	}

	// The 256th generation wrapped the session sub-counter and advanced
	// the persistent use counter.
	blob := store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(blob[otptypes.ConfigSize:]))
}

func TestPowerUpScanBumpsRollingCounters(t *testing.T) {
	e, store, _ := newTestEngine(t)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(newSlotConfig(0, 0), [6]byte{}))
	configure(t, e, otptypes.CMD_CONFIG_2, configurePayload(newSlotConfig(otptypes.OATH_HOTP, 0), [6]byte{}))

	// A restarted engine over the same store advances rolling-OTP
	// counters once; the event-counter slot is untouched.
	e2 := New(store, e.device)
	require.NoError(t, e2.Select())

	blob := store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(blob[otptypes.ConfigSize:]))
	blob = store.Read(storage.EF_OTP_SLOT2).MustGet()
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(blob[otptypes.ConfigSize:]))

	// The bump happens once per boot, not per status query.
	e2.StatusReport()
	blob = store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(blob[otptypes.ConfigSize:]))
}

func TestRollingCounterCap(t *testing.T) {
	e, store, _ := newTestEngine(t)

	cfg := newSlotConfig(0, 0)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	blob := store.Read(storage.EF_OTP_SLOT1).MustGet()
	binary.BigEndian.PutUint16(blob[otptypes.ConfigSize:], counterCap)
	require.NoError(t, store.Write(storage.EF_OTP_SLOT1, blob))

	// Generation never moves a capped counter.
	require.NoError(t, e.ButtonPressed(Slot1))
	blob = store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint16(counterCap), binary.BigEndian.Uint16(blob[otptypes.ConfigSize:]))
}

func TestDynamicTruncationRFC4226(t *testing.T) {
	// Appendix D of RFC 4226: secret "12345678901234567890".
	key := []byte("12345678901234567890")
	want := []uint32{755224, 287082, 359152, 969429, 338314, 254676, 287922, 162583, 399871, 520489}

	for counter, expected := range want {
		var msg [8]byte
		binary.BigEndian.PutUint64(msg[:], uint64(counter))
		mac := hmac.New(sha1.New, key)
		mac.Write(msg[:])
		assert.Equal(t, expected, dynamicTruncate(mac.Sum(nil))%1_000_000, "counter %d", counter)
	}
}

func expectedHOTP(cfg *otptypes.SlotConfig, counter uint64, digits int) []byte {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	code := dynamicTruncate(hmacSHA1(hotpKey(cfg), msg[:]))
	modulus := uint32(1_000_000)
	if digits == 8 {
		modulus = 100_000_000
	}
	return fmt.Appendf(nil, "%0*d", digits, code%modulus)
}

func TestEventCounterFirstUseSeedsFromUID(t *testing.T) {
	e, store, kb := newTestEngine(t)

	cfg := newSlotConfig(otptypes.OATH_HOTP|otptypes.APPEND_CR, 0)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	require.NoError(t, e.ButtonPressed(Slot1))

	// Stored counter was zero, so uid[4:6] (0x0005) seeds the count.
	assert.Equal(t, append(expectedHOTP(cfg, 5, 6), '\r'), kb.Bytes())

	blob := store.Read(storage.EF_OTP_SLOT1).MustGet()
	assert.Equal(t, uint64(6), binary.BigEndian.Uint64(blob[otptypes.ConfigSize:]))

	// The next press uses and persists the advanced counter.
	kb.Reset()
	require.NoError(t, e.ButtonPressed(Slot1))
	assert.Equal(t, append(expectedHOTP(cfg, 6, 6), '\r'), kb.Bytes())
}

func TestEventCounterEightDigits(t *testing.T) {
	e, _, kb := newTestEngine(t)

	cfg := newSlotConfig(otptypes.OATH_HOTP, otptypes.OATH_HOTP8)
	configure(t, e, otptypes.CMD_CONFIG_2, configurePayload(cfg, [6]byte{}))

	require.NoError(t, e.ButtonPressed(Slot2))
	assert.Equal(t, expectedHOTP(cfg, 5, 8), kb.Bytes())
	assert.Len(t, kb.Bytes(), 8)
}

func TestStaticTicket(t *testing.T) {
	e, _, kb := newTestEngine(t)

	cfg := newSlotConfig(otptypes.APPEND_CR, otptypes.STATIC_TICKET)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	require.NoError(t, e.ButtonPressed(Slot1))

	want := make([]byte, 0, 39)
	want = append(want, cfg.FixedData[:]...)
	want = append(want, cfg.UID[:]...)
	want = append(want, cfg.AESKey[:]...)
	want = append(want, 0x28)
	assert.Equal(t, want, kb.Bytes())
}

func TestButtonPressOnEmptyOrChallengeSlot(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.ErrorIs(t, e.ButtonPressed(Slot1), ErrNotConfigured)

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_HMAC)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))
	assert.ErrorIs(t, e.ButtonPressed(Slot1), ErrChallengeSlot)
}

func TestChallengeHMAC(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_HMAC)
	configure(t, e, otptypes.CMD_CONFIG_2, configurePayload(cfg, [6]byte{}))

	challenge := make([]byte, 64)
	copy(challenge, "Sample #2")

	resp, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_2), Data: challenge,
	})
	require.Equal(t, otptypes.SW_OK, sw)

	key := append(append([]byte(nil), cfg.AESKey[:]...), cfg.UID[:]...)
	mac := hmac.New(sha1.New, key)
	mac.Write(challenge) // full 64 bytes without the LT64 flag
	assert.Equal(t, mac.Sum(nil), resp)
}

func TestChallengeHMACShortTrimsPadding(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_HMAC|otptypes.HMAC_LT64)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	// 9 meaningful bytes, zero padded: trailing bytes equal to byte 63
	// are trimmed from the end.
	challenge := make([]byte, 64)
	copy(challenge, "Sample #2")

	resp, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_1), Data: challenge,
	})
	require.Equal(t, otptypes.SW_OK, sw)

	key := append(append([]byte(nil), cfg.AESKey[:]...), cfg.UID[:]...)
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte("Sample #2"))
	assert.Equal(t, mac.Sum(nil), resp)
}

func TestChallengeYubico(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_YUBICO)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	challenge := make([]byte, 64)
	copy(challenge, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11})

	resp, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_OTP_1), Data: challenge,
	})
	require.Equal(t, otptypes.SW_OK, sw)
	require.Len(t, resp, 16)

	// serial 0xFE123456 -> "4262605910".
	plain := append(append([]byte(nil), challenge[:6]...), []byte("4262605910")...)
	cipher, err := aes.NewCipher(cfg.AESKey[:])
	require.NoError(t, err)
	want := make([]byte, 16)
	cipher.Encrypt(want, plain)
	assert.Equal(t, want, resp)
}

func TestChallengeVariantMismatch(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_YUBICO)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	// A Yubico-only slot still matches the HMAC bit test (0x20 is part
	// of the 0x22 pattern), mirroring the wire behavior.
	_, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_1), Data: make([]byte, 64),
	})
	assert.Equal(t, otptypes.SW_OK, sw)

	// A non-challenge slot rejects calculation outright.
	plain := newSlotConfig(otptypes.APPEND_CR, 0)
	configure(t, e, otptypes.CMD_CONFIG_2, configurePayload(plain, [6]byte{}))
	_, sw = e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_2), Data: make([]byte, 64),
	})
	assert.Equal(t, otptypes.SW_WRONG_DATA, sw)
}

func TestChallengeOnEmptySlot(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_1), Data: make([]byte, 64),
	})
	assert.Equal(t, otptypes.SW_WRONG_DATA, sw)
}

func TestButtonTriggeredChallenge(t *testing.T) {
	var duringWait byte
	pressed := true

	var e *Engine
	waiter := ButtonWaiterFunc(func(ctx context.Context) error {
		duringWait = e.StatusReport()[6]
		if !pressed {
			return context.DeadlineExceeded
		}
		return nil
	})

	e, _, _ = newTestEngine(t, WithButtonWaiter(waiter))

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_HMAC|otptypes.CHAL_BTN_TRIG)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	resp, sw := e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_1), Data: make([]byte, 64),
	})
	require.Equal(t, otptypes.SW_OK, sw)
	assert.Len(t, resp, 20)
	assert.Equal(t, otptypes.STATUS_WAITING_TOUCH, duringWait)
	assert.Equal(t, otptypes.STATUS_IDLE, e.StatusReport()[6])

	// Timeout yields conditions-not-satisfied and resets to idle.
	pressed = false
	_, sw = e.ProcessAPDU(context.Background(), &otptypes.APDU{
		INS: otptypes.INS_OTP, P1: byte(otptypes.CMD_CHAL_HMAC_1), Data: make([]byte, 64),
	})
	assert.Equal(t, otptypes.SW_CONDITIONS_NOT_SATISFIED, sw)
	assert.Equal(t, otptypes.STATUS_IDLE, e.StatusReport()[6])
}

func TestStatusReportLayout(t *testing.T) {
	e, _, _ := newTestEngine(t)

	report := e.StatusReport()
	require.Len(t, report, 7)
	assert.Equal(t, DefaultVersionMajor, report[0])
	assert.Equal(t, DefaultVersionMinor, report[1])
	assert.Equal(t, byte(0), report[2])
	assert.Equal(t, byte(0), report[4], "no slots configured")

	cfg := newSlotConfig(otptypes.CHAL_RESP, otptypes.CHAL_HMAC)
	configure(t, e, otptypes.CMD_CONFIG_2, configurePayload(cfg, [6]byte{}))

	report = e.StatusReport()
	assert.Equal(t, otptypes.CONFIG2_VALID, report[4], "challenge slot without button trigger has no touch bit")
}

func TestSelectSeedsSequenceFromStore(t *testing.T) {
	e, store, _ := newTestEngine(t)
	cfg := newSlotConfig(otptypes.APPEND_CR, 0)
	configure(t, e, otptypes.CMD_CONFIG_1, configurePayload(cfg, [6]byte{}))

	// A fresh engine over the same store reports a non-zero sequence.
	e2 := New(store, e.device)
	require.NoError(t, e2.Select())
	assert.Equal(t, byte(1), e2.StatusReport()[3])
}
