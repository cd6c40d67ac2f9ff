// Package bluez lists the Bluetooth devices known to the BlueZ daemon over
// the system D-Bus, so users can pick a paired dive computer instead of
// typing its address. Only Linux is supported.
package bluez

import (
	"errors"
	"strings"
)

// SPPUUID is the Serial Port Profile service class.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

var ErrNotSupported = errors.New("bluez: not supported on this platform")

// Device is one BlueZ Device1 object.
type Device struct {
	Path      string // D-Bus object path, e.g. /org/bluez/hci0/dev_00_11_22_33_44_55
	Address   string
	Name      string
	Alias     string
	Paired    bool
	Connected bool
	// SerialPort is set when the device advertises the Serial Port Profile.
	SerialPort bool
}

// DisplayName returns the alias, the name or the address, whichever is set
// first.
func (d Device) DisplayName() string {
	switch {
	case d.Alias != "":
		return d.Alias
	case d.Name != "":
		return d.Name
	}
	return d.Address
}

func containsUUID(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

// addressFromPath recovers the address from .../dev_XX_XX_XX_XX_XX_XX.
func addressFromPath(p string) string {
	idx := strings.LastIndex(p, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(p[idx+5:], "_", ":")
}
