package otp

// modhexTab is the keyboard-layout-safe substitution alphabet. Two output
// characters per input byte, high nibble first.
var modhexTab = [16]byte{
	'c', 'b', 'd', 'e', 'f', 'g', 'h', 'i',
	'j', 'k', 'l', 'n', 'r', 't', 'u', 'v',
}

// EncodeModhex renders in as modhex ASCII.
func EncodeModhex(in []byte) []byte {
	out := make([]byte, 0, len(in)*2)
	for _, b := range in {
		out = append(out, modhexTab[b>>4], modhexTab[b&0xF])
	}
	return out
}
