// Package crc16 implements the bit-reversed CRC-16/CCITT variant used by
// the OTP slot configuration record and the HID frame transport.
package crc16

import "encoding/binary"

const (
	// Polynomial is the reflected CRC-16/CCITT polynomial.
	Polynomial = 0x8408

	// Initial is the CRC register seed.
	Initial = 0xFFFF

	// Residual is the check value a buffer yields when its complemented
	// CRC has been appended little-endian.
	Residual = 0xF0B8
)

// Checksum computes the CRC over data.
func Checksum(data []byte) uint16 {
	crc := uint16(Initial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			lsb := crc & 1
			crc >>= 1
			if lsb == 1 {
				crc ^= Polynomial
			}
		}
	}
	return crc
}

// AppendInverted appends the one's complement of the CRC over data[:len(data)]
// as two little-endian bytes and returns the extended slice. A subsequent
// Verify over the result holds.
func AppendInverted(data []byte) []byte {
	crc := ^Checksum(data)
	return binary.LittleEndian.AppendUint16(data, crc)
}

// Verify reports whether data, including its trailing complemented CRC,
// yields the expected residual.
func Verify(data []byte) bool {
	return Checksum(data) == Residual
}
