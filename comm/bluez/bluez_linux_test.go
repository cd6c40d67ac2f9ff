package bluez

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestDeviceFromIfaces(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0/dev_00_11_22_33_44_55")
	ifaces := map[string]map[string]dbus.Variant{
		deviceIface: {
			"Name":      dbus.MakeVariant("Petrel"),
			"Paired":    dbus.MakeVariant(true),
			"Connected": dbus.MakeVariant(false),
			"UUIDs":     dbus.MakeVariant([]string{SPPUUID}),
		},
	}
	dev, ok := deviceFromIfaces(path, ifaces)
	assert.True(t, ok)
	assert.Equal(t, Device{
		Path:       string(path),
		Address:    "00:11:22:33:44:55",
		Name:       "Petrel",
		Paired:     true,
		SerialPort: true,
	}, dev)

	_, ok = deviceFromIfaces("/org/bluez/hci0", map[string]map[string]dbus.Variant{
		"org.bluez.Adapter1": {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
	})
	assert.False(t, ok)
}
