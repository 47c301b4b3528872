// Package provision turns declarative YAML slot descriptions into the
// configure payloads the slot engine accepts. Hosts and the command-line
// tool use it to personalize devices without hand-packing records.
package provision

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/go-ctap/otphid/pkg/otptypes"
)

type File struct {
	Slots map[int]SlotSpec `yaml:"slots"`
}

// SlotSpec describes one slot. All key material is hex encoded; fixed may
// be shorter than 16 bytes and is zero padded on the wire.
type SlotSpec struct {
	Mode string `yaml:"mode"`

	Fixed string `yaml:"fixed"`
	UID   string `yaml:"uid"`
	Key   string `yaml:"key"`

	// AccessCode protects the slot after this write; CurrentAccessCode
	// authorizes overwriting an already protected slot.
	AccessCode        string `yaml:"access_code"`
	CurrentAccessCode string `yaml:"current_access_code"`

	AppendCR      bool `yaml:"append_cr"`
	Digits        int  `yaml:"digits"`
	RequireButton bool `yaml:"require_button"`
	ShortMessage  bool `yaml:"short_message"`
}

// Load reads and validates a provisioning file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provision: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a provisioning document and validates every slot.
func Parse(raw []byte) (*File, error) {
	f := new(File)
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("provision: parsing: %w", err)
	}
	if len(f.Slots) == 0 {
		return nil, ErrNoSlots
	}
	for n, spec := range f.Slots {
		if n != 1 && n != 2 {
			return nil, fmt.Errorf("%w: %d", ErrBadSlotNumber, n)
		}
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("slot %d: %w", n, err)
		}
	}
	return f, nil
}

func (s *SlotSpec) validate() error {
	switch s.Mode {
	case "rolling-otp", "static-ticket", "challenge-hmac", "challenge-yubico":
	case "event-counter":
		if s.Digits != 0 && s.Digits != 6 && s.Digits != 8 {
			return fmt.Errorf("%w: %d digits", ErrBadSpec, s.Digits)
		}
	default:
		return fmt.Errorf("%w: mode %q", ErrBadSpec, s.Mode)
	}

	if _, err := hexField(s.Fixed, otptypes.FixedSize, true); err != nil {
		return fmt.Errorf("fixed: %w", err)
	}
	if _, err := hexField(s.UID, otptypes.UIDSize, false); err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	if _, err := hexField(s.Key, otptypes.KeySize, false); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	for _, code := range []string{s.AccessCode, s.CurrentAccessCode} {
		if code == "" {
			continue
		}
		if _, err := hexField(code, otptypes.AccessCodeSize, false); err != nil {
			return fmt.Errorf("access code: %w", err)
		}
	}
	return nil
}

// hexField decodes a hex string of at most (or, without partial, exactly)
// max bytes.
func hexField(s string, max int, partial bool) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSpec, err)
	}
	if len(raw) > max || (!partial && len(raw) != max) {
		return nil, fmt.Errorf("%w: %d hex bytes", ErrBadSpec, len(raw))
	}
	return raw, nil
}

// Record builds the sealed configuration record for this spec.
func (s *SlotSpec) Record() (*otptypes.SlotConfig, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	c := new(otptypes.SlotConfig)
	fixed, _ := hexField(s.Fixed, otptypes.FixedSize, true)
	copy(c.FixedData[:], fixed)
	c.FixedLen = byte(len(fixed))

	uid, _ := hexField(s.UID, otptypes.UIDSize, false)
	copy(c.UID[:], uid)
	key, _ := hexField(s.Key, otptypes.KeySize, false)
	copy(c.AESKey[:], key)
	if s.AccessCode != "" {
		code, _ := hexField(s.AccessCode, otptypes.AccessCodeSize, false)
		copy(c.AccessCode[:], code)
	}

	switch s.Mode {
	case "event-counter":
		c.TktFlags |= otptypes.OATH_HOTP
		if s.Digits == 8 {
			c.CfgFlags |= otptypes.OATH_HOTP8
		}
	case "static-ticket":
		c.CfgFlags |= otptypes.STATIC_TICKET
	case "challenge-hmac":
		c.TktFlags |= otptypes.CHAL_RESP
		c.CfgFlags |= otptypes.CHAL_HMAC
		if s.ShortMessage {
			c.CfgFlags |= otptypes.HMAC_LT64
		}
	case "challenge-yubico":
		c.TktFlags |= otptypes.CHAL_RESP
		c.CfgFlags |= otptypes.CHAL_YUBICO
	}
	if s.RequireButton {
		c.CfgFlags |= otptypes.CHAL_BTN_TRIG
	}
	if s.AppendCR {
		c.TktFlags |= otptypes.APPEND_CR
	}

	c.SealCRC()
	return c, nil
}

// Payload renders the 64-byte configure body: the sealed record followed
// by the current access code.
func (s *SlotSpec) Payload() ([]byte, error) {
	c, err := s.Record()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 64)
	copy(payload, c.Encode())
	if s.CurrentAccessCode != "" {
		code, _ := hexField(s.CurrentAccessCode, otptypes.AccessCodeSize, false)
		copy(payload[otptypes.ConfigSize:], code)
	}
	return payload, nil
}

// Command is the configure command addressing the given slot number.
func Command(slot int) otptypes.Command {
	if slot == 1 {
		return otptypes.CMD_CONFIG_1
	}
	return otptypes.CMD_CONFIG_2
}

// WriteTemplate emits a commented starting-point document.
func WriteTemplate(w io.Writer) error {
	_, err := io.WriteString(w, `slots:
  1:
    mode: rolling-otp
    fixed: "cc0102030405"
    uid: "8a91543c0005"
    key: "000102030405060708090a0b0c0d0e0f"
    append_cr: true
  2:
    mode: challenge-hmac
    uid: "8a91543c0006"
    key: "102132435465768798a9bacbdcedfe0f"
    short_message: true
    require_button: false
`)
	return err
}
