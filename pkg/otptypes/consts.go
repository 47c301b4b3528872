// Package otptypes defines the wire-level constants and the slot
// configuration record of the YubiKey-compatible OTP application protocol.
package otptypes

// Record geometry.
const (
	FixedSize      = 16
	UIDSize        = 6
	KeySize        = 16
	AccessCodeSize = 6

	// ConfigSize is the size of the CRC-protected configuration record.
	ConfigSize = FixedSize + UIDSize + KeySize + AccessCodeSize + 4 + 2 + 2

	// StateSize is the size of the mutable counter area appended to a
	// stored record. It is not covered by the record CRC.
	StateSize = 8
)

// Command selects the slot operation. It travels in the P1 byte of the
// APDU envelope, or in the slot byte of a raw HID frame.
type Command byte

const (
	CMD_CONFIG_1   Command = 0x01
	CMD_CONFIG_2   Command = 0x03
	CMD_UPDATE_1   Command = 0x04
	CMD_UPDATE_2   Command = 0x05
	CMD_SWAP       Command = 0x06
	CMD_GET_SERIAL Command = 0x10
	CMD_GET_CONFIG Command = 0x13
	CMD_CHAL_OTP_1 Command = 0x20
	CMD_CHAL_OTP_2 Command = 0x28
	CMD_CHAL_HMAC_1 Command = 0x30
	CMD_CHAL_HMAC_2 Command = 0x38
)

// INS_OTP is the single instruction byte the OTP application answers.
const INS_OTP byte = 0x01

// StatusWord is an ISO7816 response status.
type StatusWord uint16

const (
	SW_OK                            StatusWord = 0x9000
	SW_WRONG_DATA                    StatusWord = 0x6A80
	SW_SECURITY_STATUS_NOT_SATISFIED StatusWord = 0x6982
	SW_CONDITIONS_NOT_SATISFIED      StatusWord = 0x6985
	SW_INCORRECT_P1P2                StatusWord = 0x6B00
	SW_INS_NOT_SUPPORTED             StatusWord = 0x6D00
	SW_CLA_NOT_SUPPORTED             StatusWord = 0x6E00
)

// ExtFlag values.
type ExtFlag byte

const (
	SERIAL_BTN_VISIBLE ExtFlag = 0x01 // Serial number visible at startup (button press)
	SERIAL_USB_VISIBLE ExtFlag = 0x02 // Serial number visible in USB iSerial field
	SERIAL_API_VISIBLE ExtFlag = 0x04 // Serial number visible via API call
	USE_NUMERIC_KEYPAD ExtFlag = 0x08 // Use numeric keypad for digits
	FAST_TRIG          ExtFlag = 0x10 // Use fast trig if only cfg1 set
	ALLOW_UPDATE       ExtFlag = 0x20 // Allow update of existing configuration
	DORMANT            ExtFlag = 0x40 // Dormant config, requires update flag to wake
	LED_INV            ExtFlag = 0x80 // LED idle state is off rather than on

	EXTFLAG_UPDATE_MASK = SERIAL_BTN_VISIBLE | SERIAL_USB_VISIBLE | SERIAL_API_VISIBLE |
		USE_NUMERIC_KEYPAD | FAST_TRIG | ALLOW_UPDATE | DORMANT | LED_INV
)

// TktFlag values.
type TktFlag byte

const (
	TAB_FIRST     TktFlag = 0x01 // Send TAB before first part
	APPEND_TAB1   TktFlag = 0x02 // Send TAB after first part
	APPEND_TAB2   TktFlag = 0x04 // Send TAB after second part
	APPEND_DELAY1 TktFlag = 0x08 // Add 0.5s delay after first part
	APPEND_DELAY2 TktFlag = 0x10 // Add 0.5s delay after second part
	APPEND_CR     TktFlag = 0x20 // Append CR as final character
	OATH_HOTP     TktFlag = 0x40 // OATH HOTP mode
	CHAL_RESP     TktFlag = 0x40 // Challenge-response enabled (with CfgFlag bits)
	PROTECT_CFG2  TktFlag = 0x80 // Block update of config 2 unless it carries this bit

	TKTFLAG_UPDATE_MASK = TAB_FIRST | APPEND_TAB1 | APPEND_TAB2 | APPEND_DELAY1 |
		APPEND_DELAY2 | APPEND_CR
)

// CfgFlag values. Meaning depends on the selected mode; the bit patterns
// overlap across modes.
type CfgFlag byte

const (
	SEND_REF      CfgFlag = 0x01 // Send reference string (0..F) before data
	PACING_10MS   CfgFlag = 0x04 // Add 10ms intra-key pacing
	PACING_20MS   CfgFlag = 0x08 // Add 20ms intra-key pacing
	STATIC_TICKET CfgFlag = 0x20 // Static ticket generation

	// Static mode.
	SHORT_TICKET CfgFlag = 0x02 // Send truncated ticket (half length, historical)
	STRONG_PW1   CfgFlag = 0x10 // Strong password policy flag #1 (mixed case)
	STRONG_PW2   CfgFlag = 0x40 // Strong password policy flag #2 (digit substitution)
	MAN_UPDATE   CfgFlag = 0x80 // Allow manual update of static OTP

	// Challenge-response mode.
	HMAC_LT64     CfgFlag = 0x04 // HMAC message is less than 64 bytes
	CHAL_BTN_TRIG CfgFlag = 0x08 // Challenge-response requires button press
	CHAL_YUBICO   CfgFlag = 0x20 // Challenge-response, Yubico OTP variant
	CHAL_HMAC     CfgFlag = 0x22 // Challenge-response, HMAC-SHA1 variant

	// OATH mode.
	OATH_HOTP8         CfgFlag = 0x02 // Generate 8 digit HOTP rather than 6
	OATH_FIXED_MODHEX1 CfgFlag = 0x10 // First byte of fixed part sent as modhex
	OATH_FIXED_MODHEX2 CfgFlag = 0x40 // First two bytes of fixed part sent as modhex
	OATH_FIXED_MODHEX  CfgFlag = 0x50 // Whole fixed part sent as modhex
	OATH_FIXED_MASK    CfgFlag = 0x50

	CFGFLAG_UPDATE_MASK = PACING_10MS | PACING_20MS
)

// Status report option bits.
const (
	CONFIG1_VALID byte = 0x01
	CONFIG2_VALID byte = 0x02
	CONFIG1_TOUCH byte = 0x04
	CONFIG2_TOUCH byte = 0x08
)

// Engine status byte values reported to the host while a command is
// in flight.
const (
	STATUS_IDLE            byte = 0x00
	STATUS_TOUCH_CONFIRMED byte = 0x10
	STATUS_WAITING_TOUCH   byte = 0x20
)

// Mode is the generation mode of a slot, derived once from its flag
// bytes. The flag bit patterns overlap; deriving the closed variant up
// front keeps dispatch away from repeated bit tests.
type Mode int

const (
	ModeRollingOTP Mode = iota
	ModeEventCounter
	ModeStaticTicket
	ModeChallengeHMAC
	ModeChallengeYubico
)

func (m Mode) String() string {
	switch m {
	case ModeRollingOTP:
		return "rolling-otp"
	case ModeEventCounter:
		return "event-counter"
	case ModeStaticTicket:
		return "static-ticket"
	case ModeChallengeHMAC:
		return "challenge-hmac"
	case ModeChallengeYubico:
		return "challenge-yubico"
	default:
		return "unknown"
	}
}
