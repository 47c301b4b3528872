package otphid

const (
	// ReportSize is the physical report: 7 payload bytes plus 1 tag byte.
	ReportSize = 8

	// FragmentSize is the payload carried per report.
	FragmentSize = 7

	// FrameSize is the reassembly buffer: ten 7-byte fragments.
	FrameSize = 70

	// PayloadSize is the logical command payload within a frame.
	PayloadSize = 64

	// slotOffset and crcOffset locate the trailing metadata of an
	// inbound frame.
	slotOffset = 64
	crcOffset  = 65

	// finalSequence is the tenth and last inbound fragment.
	finalSequence = 9
)

// Inbound tag byte layout.
const (
	TAG_FRAGMENT byte = 0x80 // top bit marks a frame fragment
	TAG_RESET    byte = 0xFF // clears all transport state
	SEQ_MASK     byte = 0x1F
)

// TAG_RESPONSE tags outbound data reports (OR-ed with the sequence) and,
// alone, the final empty terminator report.
const TAG_RESPONSE byte = 0x40
