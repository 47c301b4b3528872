package otptypes

import (
	"encoding/binary"

	"github.com/go-ctap/otphid/pkg/crc16"
)

// SlotConfig is the fixed-layout slot configuration record. The CRC field
// covers every preceding byte; the mutable counter area stored after the
// record is not part of it.
type SlotConfig struct {
	FixedData  [FixedSize]byte
	UID        [UIDSize]byte
	AESKey     [KeySize]byte
	AccessCode [AccessCodeSize]byte
	FixedLen   byte
	ExtFlags   ExtFlag
	TktFlags   TktFlag
	CfgFlags   CfgFlag
	RFU        [2]byte
	CRC        uint16
}

// DecodeSlotConfig parses a stored or host-supplied record. It performs
// bounds checking only; integrity is a separate Validate step.
func DecodeSlotConfig(data []byte) (*SlotConfig, error) {
	if len(data) < ConfigSize {
		return nil, ErrShortRecord
	}

	c := new(SlotConfig)
	c.FixedData = [FixedSize]byte(data[0:16])
	c.UID = [UIDSize]byte(data[16:22])
	c.AESKey = [KeySize]byte(data[22:38])
	c.AccessCode = [AccessCodeSize]byte(data[38:44])
	c.FixedLen = data[44]
	c.ExtFlags = ExtFlag(data[45])
	c.TktFlags = TktFlag(data[46])
	c.CfgFlags = CfgFlag(data[47])
	c.RFU = [2]byte(data[48:50])
	c.CRC = binary.LittleEndian.Uint16(data[50:52])

	return c, nil
}

// Encode renders the record back into its wire layout.
func (c *SlotConfig) Encode() []byte {
	out := make([]byte, 0, ConfigSize)
	out = append(out, c.FixedData[:]...)
	out = append(out, c.UID[:]...)
	out = append(out, c.AESKey[:]...)
	out = append(out, c.AccessCode[:]...)
	out = append(out, c.FixedLen, byte(c.ExtFlags), byte(c.TktFlags), byte(c.CfgFlags))
	out = append(out, c.RFU[:]...)
	out = binary.LittleEndian.AppendUint16(out, c.CRC)
	return out
}

// SealCRC recomputes the CRC field so that Validate holds. Hosts use it
// when building configure payloads; the device never rewrites it.
func (c *SlotConfig) SealCRC() {
	c.CRC = ^crc16.Checksum(c.Encode()[:ConfigSize-2])
}

// Validate reports whether the record is well-formed: reserved bytes zero
// and the CRC residual over the whole record equal to the fixed constant.
func (c *SlotConfig) Validate() bool {
	if c.RFU[0] != 0 || c.RFU[1] != 0 {
		return false
	}
	return crc16.Verify(c.Encode())
}

// Mode derives the generation mode from the flag bytes. The challenge
// test must run first: CHAL_RESP shares its bit with OATH_HOTP and is
// qualified by the CfgFlags challenge bits.
func (c *SlotConfig) Mode() Mode {
	if c.TktFlags&CHAL_RESP != 0 && c.CfgFlags&CHAL_YUBICO != 0 {
		if c.CfgFlags&(CHAL_HMAC&^CHAL_YUBICO) != 0 {
			return ModeChallengeHMAC
		}
		return ModeChallengeYubico
	}
	if c.TktFlags&OATH_HOTP != 0 {
		return ModeEventCounter
	}
	if c.CfgFlags&(SHORT_TICKET|STATIC_TICKET) != 0 {
		return ModeStaticTicket
	}
	return ModeRollingOTP
}

// ChallengeResponse reports whether the slot answers host-initiated
// calculate commands.
func (c *SlotConfig) ChallengeResponse() bool {
	return c.TktFlags&CHAL_RESP != 0
}

// RequiresTouch reports whether generation for this slot involves a
// button press, as exposed in the status options bitmask.
func (c *SlotConfig) RequiresTouch() bool {
	return !c.ChallengeResponse() || c.CfgFlags&CHAL_BTN_TRIG != 0
}

// MergeUpdate applies an update request on top of the existing record and
// returns the record to store. Only an allow-listed subset of flag bits
// may change; identity material and the fixed length always carry over
// from the existing record. The access code is taken from the incoming
// record, which is how a host rotates it. The result is resealed so the
// stored record stays CRC-valid.
func MergeUpdate(existing, incoming *SlotConfig) *SlotConfig {
	merged := *incoming
	merged.FixedData = existing.FixedData
	merged.UID = existing.UID
	merged.AESKey = existing.AESKey
	merged.FixedLen = existing.FixedLen
	merged.ExtFlags = (existing.ExtFlags &^ EXTFLAG_UPDATE_MASK) | (incoming.ExtFlags & EXTFLAG_UPDATE_MASK)
	merged.TktFlags = (existing.TktFlags &^ TKTFLAG_UPDATE_MASK) | (incoming.TktFlags & TKTFLAG_UPDATE_MASK)
	if existing.TktFlags&CHAL_RESP != 0 {
		// Challenge-response slots keep their configuration flags as
		// stored; the update command cannot repurpose the slot.
		merged.CfgFlags = existing.CfgFlags
	} else {
		merged.CfgFlags = (existing.CfgFlags &^ CFGFLAG_UPDATE_MASK) | (incoming.CfgFlags & CFGFLAG_UPDATE_MASK)
	}
	merged.SealCRC()
	return &merged
}
