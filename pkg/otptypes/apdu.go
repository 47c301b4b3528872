package otptypes

// APDU is the logical command envelope handed to the dispatcher. It is
// independent of the physical transport: the raw HID frame path
// synthesizes one with the reassembled 64-byte payload, a host-side APDU
// path fills it from the ISO7816 header.
type APDU struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}
