package otp

import (
	"context"
	"crypto/subtle"

	"github.com/samber/mo"

	"github.com/go-ctap/otphid/pkg/management"
	"github.com/go-ctap/otphid/pkg/otptypes"
	"github.com/go-ctap/otphid/pkg/storage"
)

// ProcessAPDU routes one command envelope. The returned bytes are the
// response body; failures are reported through the status word alone.
func (e *Engine) ProcessAPDU(ctx context.Context, apdu *otptypes.APDU) ([]byte, otptypes.StatusWord) {
	if apdu.CLA != 0x00 {
		return nil, otptypes.SW_CLA_NOT_SUPPORTED
	}
	if !e.device.CapSupported(management.CAP_OTP) || apdu.INS != otptypes.INS_OTP {
		return nil, otptypes.SW_INS_NOT_SUPPORTED
	}
	return e.cmdOTP(ctx, apdu)
}

// HandleFrame is the raw HID transport entry point: a reassembled 64-byte
// payload plus the slot byte become a synthesized command.
func (e *Engine) HandleFrame(ctx context.Context, slot byte, payload []byte) ([]byte, otptypes.StatusWord) {
	return e.ProcessAPDU(ctx, &otptypes.APDU{
		CLA:  0x00,
		INS:  otptypes.INS_OTP,
		P1:   slot,
		P2:   0x00,
		Data: payload,
	})
}

func (e *Engine) cmdOTP(ctx context.Context, apdu *otptypes.APDU) ([]byte, otptypes.StatusWord) {
	if apdu.P2 != 0x00 {
		return nil, otptypes.SW_INCORRECT_P1P2
	}

	switch otptypes.Command(apdu.P1) {
	case otptypes.CMD_CONFIG_1:
		return e.cmdConfigure(Slot1, apdu.Data)
	case otptypes.CMD_CONFIG_2:
		return e.cmdConfigure(Slot2, apdu.Data)
	case otptypes.CMD_UPDATE_1:
		return e.cmdUpdate(Slot1, apdu.Data)
	case otptypes.CMD_UPDATE_2:
		return e.cmdUpdate(Slot2, apdu.Data)
	case otptypes.CMD_SWAP:
		return e.cmdSwap()
	case otptypes.CMD_GET_SERIAL:
		serial := e.device.Serial()
		serial[0] &= 0x03
		return serial[:], otptypes.SW_OK
	case otptypes.CMD_GET_CONFIG:
		return e.device.ConfigReport(), otptypes.SW_OK
	case otptypes.CMD_CHAL_OTP_1:
		return e.cmdChallenge(ctx, Slot1, false, apdu.Data)
	case otptypes.CMD_CHAL_OTP_2:
		return e.cmdChallenge(ctx, Slot2, false, apdu.Data)
	case otptypes.CMD_CHAL_HMAC_1:
		return e.cmdChallenge(ctx, Slot1, true, apdu.Data)
	case otptypes.CMD_CHAL_HMAC_2:
		return e.cmdChallenge(ctx, Slot2, true, apdu.Data)
	default:
		return nil, otptypes.SW_OK
	}
}

func (e *Engine) statusResponse() ([]byte, otptypes.StatusWord) {
	return e.StatusReport(), otptypes.SW_OK
}

// checkAccessCode gates writes to an existing slot: the caller presents
// the current access code in the trailing position of the payload.
func checkAccessCode(existing *otptypes.SlotConfig, payload []byte) bool {
	supplied := payload[otptypes.ConfigSize : otptypes.ConfigSize+otptypes.AccessCodeSize]
	return subtle.ConstantTimeCompare(existing.AccessCode[:], supplied) == 1
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// cmdConfigure writes a new record to the slot, or deletes the slot when
// the record bytes are all zero.
func (e *Engine) cmdConfigure(slot Slot, data []byte) ([]byte, otptypes.StatusWord) {
	if len(data) < otptypes.ConfigSize+otptypes.AccessCodeSize {
		return nil, otptypes.SW_WRONG_DATA
	}
	if sd, ok := e.loadSlot(slot).Get(); ok {
		if !checkAccessCode(sd.cfg, data) {
			return nil, otptypes.SW_SECURITY_STATUS_NOT_SATISFIED
		}
	}

	if allZero(data[:otptypes.ConfigSize]) {
		if err := e.store.Delete(slotFile(slot)); err != nil {
			return nil, otptypes.SW_WRONG_DATA
		}
		if err := e.store.CommitPending(); err != nil {
			return nil, otptypes.SW_WRONG_DATA
		}
		e.configSeq++
		return e.statusResponse()
	}

	incoming, err := otptypes.DecodeSlotConfig(data)
	if err != nil || !incoming.Validate() {
		return nil, otptypes.SW_WRONG_DATA
	}

	blob := append(incoming.Encode(), make([]byte, otptypes.StateSize)...)
	if err := e.persistState(slot, blob); err != nil {
		return nil, otptypes.SW_WRONG_DATA
	}
	e.configSeq++
	return e.statusResponse()
}

// cmdUpdate merges the allow-listed flag bits into an existing record,
// preserving identity material and the mutable counter area. Updating an
// absent slot is a no-op answered with the current status.
func (e *Engine) cmdUpdate(slot Slot, data []byte) ([]byte, otptypes.StatusWord) {
	if len(data) < otptypes.ConfigSize+otptypes.AccessCodeSize {
		return nil, otptypes.SW_WRONG_DATA
	}
	incoming, err := otptypes.DecodeSlotConfig(data)
	if err != nil || !incoming.Validate() {
		return nil, otptypes.SW_WRONG_DATA
	}

	sd, ok := e.loadSlot(slot).Get()
	if !ok {
		return e.statusResponse()
	}
	if !checkAccessCode(sd.cfg, data) {
		return nil, otptypes.SW_SECURITY_STATUS_NOT_SATISFIED
	}

	merged := otptypes.MergeUpdate(sd.cfg, incoming)
	blob := append(merged.Encode(), sd.state()...)
	if err := e.persistState(slot, blob); err != nil {
		return nil, otptypes.SW_WRONG_DATA
	}
	e.configSeq++
	return e.statusResponse()
}

// cmdSwap exchanges the two stored blobs, counters included. An empty
// slot stays empty on the other side.
func (e *Engine) cmdSwap() ([]byte, otptypes.StatusWord) {
	blob1 := e.store.Read(storage.EF_OTP_SLOT1)
	blob2 := e.store.Read(storage.EF_OTP_SLOT2)

	move := func(id storage.FileID, blob mo.Option[[]byte]) error {
		if data, ok := blob.Get(); ok {
			return e.store.Write(id, data)
		}
		return e.store.Delete(id)
	}
	if err := move(storage.EF_OTP_SLOT1, blob2); err != nil {
		return nil, otptypes.SW_WRONG_DATA
	}
	if err := move(storage.EF_OTP_SLOT2, blob1); err != nil {
		return nil, otptypes.SW_WRONG_DATA
	}
	if err := e.store.CommitPending(); err != nil {
		return nil, otptypes.SW_WRONG_DATA
	}
	e.configSeq++
	return e.statusResponse()
}

// cmdChallenge answers host-initiated challenge-response calculation.
// Slots with the button-trigger flag first block for external
// confirmation; a timeout yields conditions-not-satisfied and resets the
// status byte to idle.
func (e *Engine) cmdChallenge(ctx context.Context, slot Slot, hmacVariant bool, data []byte) ([]byte, otptypes.StatusWord) {
	sd, ok := e.loadSlot(slot).Get()
	if !ok || !sd.cfg.ChallengeResponse() {
		return nil, otptypes.SW_WRONG_DATA
	}
	if len(data) < challengeLen {
		return nil, otptypes.SW_WRONG_DATA
	}

	if sd.cfg.CfgFlags&otptypes.CHAL_BTN_TRIG != 0 {
		e.statusByte = otptypes.STATUS_WAITING_TOUCH
		if err := e.waitForButton(ctx); err != nil {
			e.statusByte = otptypes.STATUS_IDLE
			e.logger.Debug("button confirmation failed", "slot", slot, "err", err)
			return nil, otptypes.SW_CONDITIONS_NOT_SATISFIED
		}
		e.statusByte = otptypes.STATUS_TOUCH_CONFIRMED
	}

	var resp []byte
	if hmacVariant {
		if sd.cfg.CfgFlags&otptypes.CHAL_HMAC == 0 {
			return nil, otptypes.SW_WRONG_DATA
		}
		resp = challengeHMAC(sd.cfg, data[:challengeLen])
	} else {
		if sd.cfg.CfgFlags&otptypes.CHAL_YUBICO == 0 {
			return nil, otptypes.SW_WRONG_DATA
		}
		var err error
		resp, err = challengeYubico(sd.cfg, data, e.serialString())
		if err != nil {
			return nil, otptypes.SW_WRONG_DATA
		}
	}

	e.statusByte = otptypes.STATUS_IDLE
	return resp, otptypes.SW_OK
}
