package bluez

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	d := Device{Address: "00:11:22:33:44:55"}
	assert.Equal(t, "00:11:22:33:44:55", d.DisplayName())
	d.Name = "Petrel"
	assert.Equal(t, "Petrel", d.DisplayName())
	d.Alias = "My Petrel"
	assert.Equal(t, "My Petrel", d.DisplayName())
}

func TestAddressFromPath(t *testing.T) {
	assert.Equal(t, "00:11:22:33:44:55", addressFromPath("/org/bluez/hci0/dev_00_11_22_33_44_55"))
	assert.Equal(t, "", addressFromPath("/org/bluez/hci0"))
}

func TestContainsUUID(t *testing.T) {
	assert.True(t, containsUUID([]string{"0000110a-0000-1000-8000-00805f9b34fb", "00001101-0000-1000-8000-00805F9B34FB"}, SPPUUID))
	assert.False(t, containsUUID(nil, SPPUUID))
}
