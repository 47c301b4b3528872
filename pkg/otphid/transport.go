// Package otphid implements the device side of the OTP HID transport:
// 64-byte logical frames carried as sequenced, CRC-checked 8-byte
// reports, with host-polled outbound fragmentation.
package otphid

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/samber/lo"

	"github.com/go-ctap/otphid/pkg/crc16"
	"github.com/go-ctap/otphid/pkg/otptypes"
)

// Handler consumes reassembled frames and provides the idle status
// report. The engine's dispatcher implements it.
type Handler interface {
	HandleFrame(ctx context.Context, slot byte, payload []byte) ([]byte, otptypes.StatusWord)
	StatusReport() []byte
}

// Transport reassembles inbound reports and fragments responses. It is
// driven from the HID set/get report callbacks and, like the engine, is
// single-threaded.
type Transport struct {
	handler Handler
	logger  *slog.Logger

	rx [FrameSize]byte

	outbound    [][]byte
	curSeq      byte
	pendingTerm bool
}

type TransportOption func(*Transport)

func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a transport over the given frame handler.
func NewTransport(handler Handler, opts ...TransportOption) *Transport {
	t := &Transport{
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetReport is the inbound report callback. Fragment sequence 0 restarts
// reassembly; sequence 9 completes the frame, verifies its CRC and
// dispatches synchronously. A CRC mismatch drops the frame without a
// response. The reset tag clears all transport state.
func (t *Transport) SetReport(ctx context.Context, report []byte) {
	if len(report) < ReportSize {
		return
	}

	switch {
	case report[7] == TAG_RESET:
		t.reset()
	case report[7]&TAG_FRAGMENT != 0:
		seq := report[7] & SEQ_MASK
		if seq > finalSequence {
			return
		}
		if seq == 0 {
			t.rx = [FrameSize]byte{}
		}
		copy(t.rx[int(seq)*FragmentSize:], report[:FragmentSize])
		if seq == finalSequence {
			t.dispatch(ctx)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context) {
	want := binary.LittleEndian.Uint16(t.rx[crcOffset : crcOffset+2])
	if got := crc16.Checksum(t.rx[:PayloadSize]); got != want {
		t.logger.Warn("dropping frame with bad CRC", "got", got, "want", want)
		return
	}

	slot := t.rx[slotOffset]
	payload := make([]byte, PayloadSize)
	copy(payload, t.rx[:PayloadSize])

	resp, sw := t.handler.HandleFrame(ctx, slot, payload)
	if sw == otptypes.SW_OK && len(resp) > 0 {
		t.sendFrame(resp)
	}
}

// sendFrame queues a response: the complemented CRC is appended and the
// buffer split into 7-byte fragments for the host to poll.
func (t *Transport) sendFrame(resp []byte) {
	buf := crc16.AppendInverted(append([]byte(nil), resp...))
	t.outbound = lo.Chunk(buf, FragmentSize)
	t.curSeq = 0
	t.pendingTerm = false
}

// GetReport is the host-poll callback. It emits the next pending
// fragment, then a single empty terminator, and otherwise the idle
// status report.
func (t *Transport) GetReport(report []byte) {
	if len(report) < ReportSize {
		return
	}
	clear(report[:ReportSize])

	switch {
	case len(t.outbound) > 0:
		frag := t.outbound[0]
		t.outbound = t.outbound[1:]
		copy(report[:FragmentSize], frag)
		report[7] = TAG_RESPONSE | t.curSeq
		t.curSeq++
		if len(t.outbound) == 0 {
			t.pendingTerm = true
		}
	case t.pendingTerm:
		report[7] = TAG_RESPONSE
		t.pendingTerm = false
		t.curSeq = 0
	default:
		copy(report[1:ReportSize], t.handler.StatusReport())
	}
}

func (t *Transport) reset() {
	t.rx = [FrameSize]byte{}
	t.outbound = nil
	t.curSeq = 0
	t.pendingTerm = false
}
