package bluez

import (
	"context"
	"fmt"
	"sort"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// Devices returns every device BlueZ knows about, sorted with paired
// devices first.
func Devices(ctx context.Context) ([]Device, error) {
	bus, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	defer bus.Close()

	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	if call := obj.CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}

	var out []Device
	for path, ifaces := range objs {
		if dev, ok := deviceFromIfaces(path, ifaces); ok {
			out = append(out, dev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Paired != out[j].Paired {
			return out[i].Paired
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// PairedDevices returns the paired subset of Devices.
func PairedDevices(ctx context.Context) ([]Device, error) {
	all, err := Devices(ctx)
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range all {
		if d.Paired {
			out = append(out, d)
		}
	}
	return out, nil
}

func deviceFromIfaces(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (Device, bool) {
	props, ok := ifaces[deviceIface]
	if !ok {
		return Device{}, false
	}
	dev := Device{Path: string(path)}
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		dev.Alias, _ = v.Value().(string)
	}
	if v, ok := props["Paired"]; ok {
		dev.Paired, _ = v.Value().(bool)
	}
	if v, ok := props["Connected"]; ok {
		dev.Connected, _ = v.Value().(bool)
	}
	if v, ok := props["UUIDs"]; ok {
		uu, _ := v.Value().([]string)
		dev.SerialPort = containsUUID(uu, SPPUUID)
	}
	if dev.Address == "" {
		dev.Address = addressFromPath(dev.Path)
	}
	return dev, true
}
