//go:build !linux

package bluez

import "context"

func Devices(ctx context.Context) ([]Device, error) { return nil, ErrNotSupported }

func PairedDevices(ctx context.Context) ([]Device, error) { return nil, ErrNotSupported }
