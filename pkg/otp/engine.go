// Package otp implements the slot engine of the YubiKey-compatible OTP
// application: persistent slot configuration, the generation algorithms
// and the command dispatcher fed by the HID frame transport.
package otp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/go-ctap/otphid/pkg/management"
	"github.com/go-ctap/otphid/pkg/otptypes"
	"github.com/go-ctap/otphid/pkg/storage"
)

// Slot selects one of the two secret configurations.
type Slot byte

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

// DefaultVersionMajor and DefaultVersionMinor are reported in the status
// report unless overridden with WithVersion.
const (
	DefaultVersionMajor byte = 5
	DefaultVersionMinor byte = 7
)

// counterCap is the highest use-counter value still persisted; beyond it
// the counter freezes to bound flash wear.
const counterCap = 0x7FFF

// Engine owns the slot store, the per-boot generation state and the
// command dispatch surface. It is not safe for concurrent use: the
// environment must serialize button events against command processing.
type Engine struct {
	store    storage.Store
	device   *management.Device
	logger   *slog.Logger
	clock    func() time.Duration
	rand     io.Reader
	keyboard KeyboardWriter
	button   ButtonWaiter

	versionMajor byte
	versionMinor byte

	scanned        bool
	configSeq      byte
	sessionCounter [2]byte
	statusByte     byte
}

// New creates an engine over the given store and device configuration.
func New(store storage.Store, device *management.Device, opts ...Option) *Engine {
	start := time.Now()
	e := &Engine{
		store:        store,
		device:       device,
		logger:       slog.Default(),
		clock:        func() time.Duration { return time.Since(start) },
		rand:         rand.Reader,
		keyboard:     &Buffer{},
		versionMajor: DefaultVersionMajor,
		versionMinor: DefaultVersionMinor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select activates the application. It fails when the device
// configuration disables OTP, and seeds the structural sequence number
// from the stored slots so hosts can detect state from before a restart.
func (e *Engine) Select() error {
	if !e.device.CapSupported(management.CAP_OTP) {
		return ErrCapabilityDisabled
	}
	if e.store.Exists(storage.EF_OTP_SLOT1) || e.store.Exists(storage.EF_OTP_SLOT2) {
		e.configSeq = 1
	} else {
		e.configSeq = 0
	}
	e.ensureScanned()
	return nil
}

// slotData is one loaded slot: the decoded record plus the raw stored
// blob whose tail is the mutable counter area.
type slotData struct {
	cfg  *otptypes.SlotConfig
	blob []byte
}

func (s *slotData) state() []byte {
	return s.blob[otptypes.ConfigSize:]
}

func slotFile(slot Slot) storage.FileID {
	if slot == Slot1 {
		return storage.EF_OTP_SLOT1
	}
	return storage.EF_OTP_SLOT2
}

func (e *Engine) loadSlot(slot Slot) mo.Option[*slotData] {
	data, ok := e.store.Read(slotFile(slot)).Get()
	if !ok || len(data) < otptypes.ConfigSize+otptypes.StateSize {
		return mo.None[*slotData]()
	}
	cfg, err := otptypes.DecodeSlotConfig(data)
	if err != nil {
		return mo.None[*slotData]()
	}
	return mo.Some(&slotData{cfg: cfg, blob: data})
}

// ensureScanned runs the one-time power-up pass: the use counter of
// every configured rolling-OTP slot is advanced and persisted, capped at
// counterCap.
func (e *Engine) ensureScanned() {
	if e.scanned {
		return
	}
	for _, slot := range []Slot{Slot1, Slot2} {
		sd, ok := e.loadSlot(slot).Get()
		if !ok || sd.cfg.Mode() != otptypes.ModeRollingOTP {
			continue
		}
		counter := binary.BigEndian.Uint16(sd.state()[:2])
		counter++
		if counter <= counterCap {
			binary.BigEndian.PutUint16(sd.state()[:2], counter)
			if err := e.store.Write(slotFile(slot), sd.blob); err != nil {
				e.logger.Warn("power-up counter persist failed", "slot", slot, "err", err)
			}
		}
	}
	e.scanned = true
	if err := e.store.CommitPending(); err != nil {
		e.logger.Warn("power-up commit failed", "err", err)
	}
}

// StatusReport renders the seven status fields: version, structural
// sequence, slot options bitmask and the current status byte.
func (e *Engine) StatusReport() []byte {
	e.ensureScanned()
	var opts byte
	if sd, ok := e.loadSlot(Slot1).Get(); ok {
		opts |= otptypes.CONFIG1_VALID
		if sd.cfg.RequiresTouch() {
			opts |= otptypes.CONFIG1_TOUCH
		}
	}
	if sd, ok := e.loadSlot(Slot2).Get(); ok {
		opts |= otptypes.CONFIG2_VALID
		if sd.cfg.RequiresTouch() {
			opts |= otptypes.CONFIG2_TOUCH
		}
	}
	return []byte{e.versionMajor, e.versionMinor, 0x00, e.configSeq, opts, 0x00, e.statusByte}
}

// ButtonPressed runs the device-initiated generation path for the given
// slot and hands the result to the keyboard writer. Challenge-response
// slots are host-driven and not button-generable.
func (e *Engine) ButtonPressed(slot Slot) error {
	e.ensureScanned()
	if !e.device.CapSupported(management.CAP_OTP) {
		return ErrCapabilityDisabled
	}
	sd, ok := e.loadSlot(slot).Get()
	if !ok {
		return ErrNotConfigured
	}

	switch sd.cfg.Mode() {
	case otptypes.ModeChallengeHMAC, otptypes.ModeChallengeYubico:
		return ErrChallengeSlot
	case otptypes.ModeEventCounter:
		return e.generateEventCounter(slot, sd)
	case otptypes.ModeStaticTicket:
		e.generateStatic(sd)
		return nil
	default:
		return e.generateRolling(slot, sd)
	}
}

// persistState writes the slot blob back and commits once.
func (e *Engine) persistState(slot Slot, blob []byte) error {
	if err := e.store.Write(slotFile(slot), blob); err != nil {
		return fmt.Errorf("otp: persisting slot %d state: %w", slot, err)
	}
	if err := e.store.CommitPending(); err != nil {
		return fmt.Errorf("otp: committing slot %d state: %w", slot, err)
	}
	return nil
}

// serialString is the 10-character decimal device serial used as the AES
// challenge suffix.
func (e *Engine) serialString() []byte {
	serial := e.device.Serial()
	return fmt.Appendf(nil, "%010d", binary.BigEndian.Uint32(serial[:]))
}
