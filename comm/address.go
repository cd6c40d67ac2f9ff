package comm

import (
	"fmt"
	"net"
	"strings"

	"dosgo/btSerial/dc"
)

// Address is a Bluetooth device address in display order, so that
// "00:11:22:33:44:55" gives Address{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}.
type Address [6]byte

// ParseAddress parses a colon or dash separated Bluetooth address.
func ParseAddress(s string) (Address, error) {
	var a Address
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return a, fmt.Errorf("comm: bad bluetooth address %q: %w", s, dc.InvalidArgs)
	}
	if len(hw) != len(a) {
		return a, fmt.Errorf("comm: bad bluetooth address %q: %w", s, dc.InvalidArgs)
	}
	copy(a[:], hw)
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// bdaddr returns the address in the byte order the Linux kernel stores
// BD_ADDR in (reversed).
func (a Address) bdaddr() [6]byte {
	var b [6]byte
	for i := 0; i < 6; i++ {
		b[i] = a[5-i]
	}
	return b
}

// uint64 packs the address with the first byte in the high position, as
// Winsock's BTH_ADDR expects.
func (a Address) uint64() uint64 {
	var result uint64
	for i := 0; i < 6; i++ {
		result = (result << 8) | uint64(a[i])
	}
	return result
}
