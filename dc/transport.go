package dc

// Transport identifies the kind of link a Serial handle runs over.
type Transport int

const (
	TransportNone Transport = iota
	TransportSerial
	TransportUSB
	TransportUSBHID
	TransportIrDA
	TransportBluetooth
	TransportBLE
)

func (t Transport) String() string {
	switch t {
	case TransportSerial:
		return "serial"
	case TransportUSB:
		return "usb"
	case TransportUSBHID:
		return "usbhid"
	case TransportIrDA:
		return "irda"
	case TransportBluetooth:
		return "bluetooth"
	case TransportBLE:
		return "ble"
	default:
		return "none"
	}
}

// Direction selects the queue(s) a Flush applies to.
type Direction int

const (
	DirectionInput Direction = 1 << iota
	DirectionOutput

	DirectionAll = DirectionInput | DirectionOutput
)
