package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosgo/btSerial/dc"
)

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(" 00:1a:7d:DA:71:0f ")
	require.NoError(t, err)
	assert.Equal(t, Address{0x00, 0x1a, 0x7d, 0xda, 0x71, 0x0f}, a)
	assert.Equal(t, "00:1A:7D:DA:71:0F", a.String())

	b, err := ParseAddress("00-1A-7D-DA-71-0F")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, bad := range []string{"", "00:11:22:33:44", "00:11:22:33:44:55:66:77", "zz:11:22:33:44:55"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, dc.InvalidArgs, bad)
	}
}

func TestAddressByteOrder(t *testing.T) {
	a := Address{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	assert.Equal(t, [6]byte{0x55, 0x44, 0x33, 0x22, 0x11, 0x00}, a.bdaddr())
	assert.Equal(t, uint64(0x001122334455), a.uint64())
}
