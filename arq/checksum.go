package arq

import (
	"fmt"

	"github.com/google/netstack/tcpip/header"
	"github.com/howeyc/crc16"
)

// Checksum computes the 16-bit Internet checksum of data: the one's
// complement of the one's complement sum of all 16-bit big-endian words,
// where an odd trailing byte is padded with a zero byte. The checksum of an
// empty slice is 0xffff.
//
// The 16-bit sum cannot tell the order of words apart, so swapping two
// aligned words, or two changes that compensate each other, is not detected.
func Checksum(data []byte) uint16 {
	return ^onesComplementSum(data, 0)
}

// VerifyChecksum reports whether sum is the Internet checksum of data. The
// running sum over data is folded together with sum and must come out as
// 0xffff.
func VerifyChecksum(data []byte, sum uint16) bool {
	return onesComplementSum(data, sum) == 0xffff
}

// checksumChunkSize bounds the bytes handed to header.Checksum in one call.
// It accumulates into 32 bits, which holds the sum of 32768 words plus the
// initial value without overflowing. The size is even, so only the final
// chunk can have a trailing odd byte.
const checksumChunkSize = 1 << 16

// onesComplementSum returns the folded one's complement sum of data, starting
// from initial.
func onesComplementSum(data []byte, initial uint16) uint16 {
	sum := initial
	for len(data) > checksumChunkSize {
		sum = header.Checksum(data[:checksumChunkSize], sum)
		data = data[checksumChunkSize:]
	}

	return header.Checksum(data, sum)
}

var crc16Table = crc16.MakeTable(crc16.CCITT)

// Integrity selects the 16-bit integrity function that protects every frame
// on the wire.
type Integrity uint8

const (
	// IntegrityInternet protects frames with the Internet checksum.
	IntegrityInternet Integrity = iota

	// IntegrityCRC16 protects frames with a CRC-16/CCITT, which also
	// catches reordered words.
	IntegrityCRC16
)

// String returns a human readable name of the integrity function.
func (i Integrity) String() string {
	switch i {
	case IntegrityInternet:
		return "internet"
	case IntegrityCRC16:
		return "crc16"
	default:
		return "unknown"
	}
}

// ParseIntegrity maps a name as returned by String back to an Integrity.
func ParseIntegrity(name string) (Integrity, error) {
	switch name {
	case "", "internet":
		return IntegrityInternet, nil
	case "crc16":
		return IntegrityCRC16, nil
	default:
		return 0, fmt.Errorf("unknown integrity function %q", name)
	}
}

// Sum computes the integrity value of data.
func (i Integrity) Sum(data []byte) uint16 {
	switch i {
	case IntegrityCRC16:
		return crc16.Checksum(data, crc16Table)
	default:
		return Checksum(data)
	}
}

// Verify reports whether sum matches data.
func (i Integrity) Verify(data []byte, sum uint16) bool {
	switch i {
	case IntegrityCRC16:
		return crc16.Checksum(data, crc16Table) == sum
	default:
		return VerifyChecksum(data, sum)
	}
}
