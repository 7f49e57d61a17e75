package reader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// knownReaderVendors maps USB vendor ids (upper-case hex) of common card
// reader chipsets to a display name.
var knownReaderVendors = map[string]string{
	"1FC9": "NXP",
	"072F": "Advanced Card Systems",
	"0BDA": "Realtek",
}

// PortInfo describes a serial port an operator can pick.
type PortInfo struct {
	Name         string `json:"name"`
	USB          bool   `json:"usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`

	// Vendor is set when VID belongs to a known card reader chipset.
	Vendor string `json:"vendor,omitempty"`
}

// KnownReader reports whether the port looks like a card reader.
func (p PortInfo) KnownReader() bool {
	return p.Vendor != ""
}

// SerialTransport opens local serial ports.
type SerialTransport struct {
	listPorts    func() ([]string, error)
	listDetailed func() ([]*enumerator.PortDetails, error)
	open         func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialTransport returns a transport backed by the host's serial ports.
func NewSerialTransport() *SerialTransport {
	return &SerialTransport{
		listPorts:    serial.GetPortsList,
		listDetailed: enumerator.GetDetailedPortsList,
		open:         serial.Open,
	}
}

// Available implements Transport: at least one serial port exists.
func (t *SerialTransport) Available() bool {
	ports, err := t.listPorts()
	return err == nil && len(ports) > 0
}

// Open implements Transport.
func (t *SerialTransport) Open(ctx context.Context, line LineConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line = line.withDefaults()

	mode, err := serialMode(line)
	if err != nil {
		return nil, err
	}

	port, err := t.open(line.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", line.Device, err)
	}
	if err := port.SetReadTimeout(line.ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

// Ports lists serial ports with USB details, known readers first.
func (t *SerialTransport) Ports() ([]PortInfo, error) {
	details, err := t.listDetailed()
	if err != nil {
		return nil, fmt.Errorf("enumerating ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		p := PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		p.Vendor = knownReaderVendors[p.VID]
		ports = append(ports, p)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].KnownReader() != ports[j].KnownReader() {
			return ports[i].KnownReader()
		}
		return ports[i].Name < ports[j].Name
	})
	return ports, nil
}

func serialMode(line LineConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: line.BaudRate,
		DataBits: line.DataBits,
	}

	switch line.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrUnsupportedDevice, line.Parity)
	}

	switch line.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", ErrUnsupportedDevice, line.StopBits)
	}
	return mode, nil
}
