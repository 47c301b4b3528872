package otphid

import (
	"encoding/binary"

	"github.com/samber/lo"

	"github.com/go-ctap/otphid/pkg/crc16"
)

// EncodeRequest builds the ten inbound reports carrying a command frame:
// payload (zero-padded to 64 bytes), the slot byte, and the plain CRC
// over the payload. Hosts write these as feature reports in order.
func EncodeRequest(slot byte, payload []byte) ([][]byte, error) {
	if len(payload) > PayloadSize {
		return nil, ErrPayloadTooLarge
	}

	frame := make([]byte, FrameSize)
	copy(frame, payload)
	frame[slotOffset] = slot
	binary.LittleEndian.PutUint16(frame[crcOffset:], crc16.Checksum(frame[:PayloadSize]))

	reports := make([][]byte, 0, FrameSize/FragmentSize)
	for seq, chunk := range lo.Chunk(frame, FragmentSize) {
		report := make([]byte, ReportSize)
		copy(report, chunk)
		report[7] = TAG_FRAGMENT | byte(seq)
		reports = append(reports, report)
	}
	return reports, nil
}

// ResetReport returns the report clearing all transport state.
func ResetReport() []byte {
	report := make([]byte, ReportSize)
	report[7] = TAG_RESET
	return report
}

// ResponseCollector accumulates polled reports into a response body.
// Feed each GetReport result to Push until it reports completion, then
// take the CRC-verified body from Body.
type ResponseCollector struct {
	buf  []byte
	done bool
}

// Push consumes one polled report. It returns true once the terminator
// report has been seen.
func (c *ResponseCollector) Push(report []byte) bool {
	if c.done || len(report) < ReportSize {
		return c.done
	}

	tag := report[7]
	if tag&TAG_RESPONSE == 0 {
		return false
	}
	if tag == TAG_RESPONSE && len(c.buf) > 0 {
		c.done = true
		return true
	}
	c.buf = append(c.buf, report[:FragmentSize]...)
	return false
}

// Body returns the n-byte response body after verifying the complemented
// CRC behind it. The wire does not carry a length; callers know the
// expected size of each command's response.
func (c *ResponseCollector) Body(n int) ([]byte, error) {
	if !c.done {
		return nil, ErrResponseIncomplete
	}
	if n+2 > len(c.buf) {
		return nil, ErrResponseIncomplete
	}
	if !crc16.Verify(c.buf[:n+2]) {
		return nil, ErrResponseIntegrity
	}
	return c.buf[:n], nil
}
