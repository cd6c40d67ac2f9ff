package comm

import (
	"fmt"
	"sort"
	"strings"

	bugst "go.bug.st/serial"
)

// ListSerialPorts returns the serial devices present on this machine, with
// rfcomm ttys first since those are the ones bound to Bluetooth devices.
func ListSerialPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("comm: list serial ports: %w", err)
	}
	sort.SliceStable(ports, func(i, j int) bool {
		ri, rj := strings.Contains(ports[i], "rfcomm"), strings.Contains(ports[j], "rfcomm")
		if ri != rj {
			return ri
		}
		return ports[i] < ports[j]
	})
	return ports, nil
}
