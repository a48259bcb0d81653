package serial

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.bug.st/serial/enumerator"
)

// FTDI FT232B/BL, the USB bridge on the USBDO96.
const (
	DefaultVID = "0403"
	DefaultPID = "6001"
)

// Device is a candidate USBDO96 port.
type Device struct {
	Path         string `json:"path"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListFunc returns the ports present on the host.
type ListFunc func() ([]*enumerator.PortDetails, error)

// Locator finds USBDO96 cards by their USB vendor and product id.
type Locator struct {
	VID  string
	PID  string
	list ListFunc
}

func NewLocator(vid, pid string) *Locator {
	if vid == "" {
		vid = DefaultVID
	}
	if pid == "" {
		pid = DefaultPID
	}
	return &Locator{
		VID:  vid,
		PID:  pid,
		list: enumerator.GetDetailedPortsList,
	}
}

// WithListFunc replaces port enumeration; used by tests.
func (l *Locator) WithListFunc(list ListFunc) *Locator {
	l.list = list
	return l
}

// Devices lists matching ports sorted by path. macOS call-out devices
// (/dev/cu.*) are reported as their dial-in twin (/dev/tty.*).
func (l *Locator) Devices() ([]Device, error) {
	ports, err := l.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	seen := make(map[string]bool)
	var devices []Device
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, l.VID) || !strings.EqualFold(p.PID, l.PID) {
			continue
		}

		path := ttyPath(p.Name)
		if seen[path] {
			continue
		}
		seen[path] = true

		devices = append(devices, Device{
			Path:         path,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}

// Resolve maps a configured identifier to a port path:
//   - empty: the only attached card, ErrDeviceNotFound or ErrAmbiguousDevice otherwise
//   - a USB serial number of an attached card: that card's path
//   - anything else: used as the path itself
func (l *Locator) Resolve(identifier string) (string, error) {
	if identifier != "" && strings.HasPrefix(identifier, "/") {
		return identifier, nil
	}

	devices, err := l.Devices()
	if err != nil {
		if identifier != "" {
			return identifier, nil
		}
		return "", fmt.Errorf("%w: %v", usbdo96.ErrDeviceNotFound, err)
	}

	if identifier == "" {
		switch len(devices) {
		case 0:
			return "", fmt.Errorf("%w: no device with VID %s PID %s", usbdo96.ErrDeviceNotFound, l.VID, l.PID)
		case 1:
			return devices[0].Path, nil
		default:
			paths := make([]string, len(devices))
			for i, d := range devices {
				paths[i] = d.Path
			}
			return "", fmt.Errorf("%w: %s", usbdo96.ErrAmbiguousDevice, strings.Join(paths, ", "))
		}
	}

	for _, d := range devices {
		if d.SerialNumber != "" && d.SerialNumber == identifier {
			return d.Path, nil
		}
	}
	return identifier, nil
}

func ttyPath(name string) string {
	if strings.HasPrefix(name, "/dev/cu.") {
		return "/dev/tty." + strings.TrimPrefix(name, "/dev/cu.")
	}
	return name
}
