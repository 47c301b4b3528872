// Package management implements the device-wide capability and
// configuration report shared by the applications of a multi-protocol
// security key. The OTP application consults it for the "is OTP enabled"
// gate and delegates the get-device-config command to it.
package management

import (
	"encoding/binary"

	"github.com/go-ctap/otphid/pkg/storage"
)

// Capability identifies one protocol application.
type Capability uint16

const (
	CAP_OTP     Capability = 0x0001
	CAP_U2F     Capability = 0x0002
	CAP_OPENPGP Capability = 0x0008
	CAP_PIV     Capability = 0x0010
	CAP_OATH    Capability = 0x0020
	CAP_FIDO2   Capability = 0x0200
)

// Tag is a TLV tag of the device configuration report.
type Tag byte

const (
	TAG_USB_SUPPORTED Tag = 0x01
	TAG_SERIAL        Tag = 0x02
	TAG_USB_ENABLED   Tag = 0x03
	TAG_FORM_FACTOR   Tag = 0x04
	TAG_VERSION       Tag = 0x05
	TAG_DEVICE_FLAGS  Tag = 0x08
	TAG_CONFIG_LOCK   Tag = 0x0A
)

// FLAG_EJECT is the default device flag advertised when no stored
// configuration exists.
const FLAG_EJECT byte = 0x80

const formFactorUSBAKeychain byte = 0x01

// Device answers capability queries and renders the configuration report.
// The enabled-capability mask lives in the EF_DEV_CONF file as the raw
// TLV body written by the set-config command.
type Device struct {
	store        storage.Store
	serial       [4]byte
	versionMajor byte
	versionMinor byte
}

// New creates a Device over the shared store.
func New(store storage.Store, serial [4]byte, versionMajor, versionMinor byte) *Device {
	return &Device{
		store:        store,
		serial:       serial,
		versionMajor: versionMajor,
		versionMinor: versionMinor,
	}
}

// CapSupported reports whether the capability is enabled. Without a
// stored configuration every capability is enabled.
func (d *Device) CapSupported(cap Capability) bool {
	data, ok := d.store.Read(storage.EF_DEV_CONF).Get()
	if !ok {
		return true
	}
	for tag, value := range walkTLV(data) {
		if tag != TAG_USB_ENABLED {
			continue
		}
		if len(value) == 0 {
			break
		}
		enabled := uint16(value[0])
		if len(value) >= 2 {
			enabled = binary.BigEndian.Uint16(value)
		}
		return Capability(enabled)&cap != 0
	}
	return true
}

// ConfigReport renders the device configuration: a leading length byte
// followed by the TLV body. With a stored configuration the body is
// echoed verbatim; otherwise defaults are reported.
func (d *Device) ConfigReport() []byte {
	out := []byte{0} // overall length, filled below
	out = appendTLV(out, TAG_USB_SUPPORTED, capabilityMask(CAP_FIDO2|CAP_OTP|CAP_U2F|CAP_OATH))
	out = appendTLV(out, TAG_SERIAL, d.maskedSerial())
	out = appendTLV(out, TAG_FORM_FACTOR, []byte{formFactorUSBAKeychain})
	out = appendTLV(out, TAG_VERSION, []byte{d.versionMajor, d.versionMinor, 0})

	if data, ok := d.store.Read(storage.EF_DEV_CONF).Get(); ok {
		out = append(out, data...)
	} else {
		var enabled Capability
		for _, c := range []Capability{CAP_FIDO2, CAP_OTP, CAP_U2F, CAP_OATH, CAP_OPENPGP, CAP_PIV} {
			if d.CapSupported(c) {
				enabled |= c
			}
		}
		out = appendTLV(out, TAG_USB_ENABLED, capabilityMask(enabled))
		out = appendTLV(out, TAG_DEVICE_FLAGS, []byte{FLAG_EJECT})
		out = appendTLV(out, TAG_CONFIG_LOCK, []byte{0x00})
	}

	out[0] = byte(len(out) - 1)
	return out
}

// WriteConfig stores a new raw TLV configuration body. The body must be
// prefixed with its own length byte, which is stripped before storing.
func (d *Device) WriteConfig(data []byte) bool {
	if len(data) == 0 || int(data[0]) != len(data)-1 {
		return false
	}
	if err := d.store.Write(storage.EF_DEV_CONF, data[1:]); err != nil {
		return false
	}
	_ = d.store.CommitPending()
	return true
}

// FactoryReset wipes the stored device configuration and the files listed
// by the caller, then commits once. Applications pass their own state
// files so a reset clears every protocol in one pass.
func (d *Device) FactoryReset(extra ...storage.FileID) error {
	for _, id := range append([]storage.FileID{storage.EF_DEV_CONF}, extra...) {
		if err := d.store.Delete(id); err != nil {
			return err
		}
	}
	return d.store.CommitPending()
}

// Serial returns the raw 4-byte device serial.
func (d *Device) Serial() [4]byte {
	return d.serial
}

// maskedSerial bounds the serial to 8 decimal digits by clearing the
// upper bits of the first byte.
func (d *Device) maskedSerial() []byte {
	s := d.serial
	s[0] &= 0x03
	return s[:]
}

func capabilityMask(caps Capability) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(caps))
}

func appendTLV(out []byte, tag Tag, value []byte) []byte {
	out = append(out, byte(tag), byte(len(value)))
	return append(out, value...)
}

// walkTLV iterates tag/value pairs of a TLV body, stopping at the first
// truncated entry.
func walkTLV(data []byte) func(yield func(Tag, []byte) bool) {
	return func(yield func(Tag, []byte) bool) {
		for len(data) >= 2 {
			tag := Tag(data[0])
			length := int(data[1])
			if len(data) < 2+length {
				return
			}
			if !yield(tag, data[2:2+length]) {
				return
			}
			data = data[2+length:]
		}
	}
}
