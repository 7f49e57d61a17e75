package reader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/rollcall/internal/infrastructure/config"
)

// Transport opens streaming sessions to a reader device.
type Transport interface {
	// Available reports whether this host can stream from any device.
	Available() bool

	// Open opens the device named in line.Device.
	Open(ctx context.Context, line LineConfig) (Session, error)
}

// Session is one open device.
//
// Read blocks until data arrives, the configured read timeout elapses, or
// the session is closed. An idle timeout returns (0, nil). End of stream
// returns io.EOF. Close unblocks a pending Read.
type Session interface {
	Read(p []byte) (int, error)
	Close() error
}

// Parity values for LineConfig.
const (
	ParityNone = "none"
	ParityOdd  = "odd"
	ParityEven = "even"
)

// LineConfig is the fixed line setup for a device. It is read from
// configuration and never negotiated with the reader.
type LineConfig struct {
	Device      string
	BaudRate    int
	DataBits    int
	Parity      string
	StopBits    int
	ReadTimeout time.Duration
}

// Default line parameters (9600 8N1).
const (
	DefaultBaudRate    = 9600
	DefaultDataBits    = 8
	DefaultStopBits    = 1
	DefaultReadTimeout = 500 * time.Millisecond
)

// LineConfigFrom builds a LineConfig from the reader configuration,
// filling zero values with defaults.
func LineConfigFrom(cfg config.ReaderConfig) LineConfig {
	return LineConfig{
		Device:      cfg.Device,
		BaudRate:    cfg.BaudRate,
		DataBits:    cfg.DataBits,
		Parity:      cfg.Parity,
		StopBits:    cfg.StopBits,
		ReadTimeout: cfg.ReadTimeout(),
	}.withDefaults()
}

func (l LineConfig) withDefaults() LineConfig {
	if l.BaudRate <= 0 {
		l.BaudRate = DefaultBaudRate
	}
	if l.DataBits <= 0 {
		l.DataBits = DefaultDataBits
	}
	if l.StopBits <= 0 {
		l.StopBits = DefaultStopBits
	}
	l.Parity = strings.ToLower(l.Parity)
	if l.Parity == "" {
		l.Parity = ParityNone
	}
	if l.ReadTimeout <= 0 {
		l.ReadTimeout = DefaultReadTimeout
	}
	return l
}

// String renders the line as e.g. "9600 8N1".
func (l LineConfig) String() string {
	p := "N"
	switch l.Parity {
	case ParityOdd:
		p = "O"
	case ParityEven:
		p = "E"
	}
	return fmt.Sprintf("%d %d%s%d", l.BaudRate, l.DataBits, p, l.StopBits)
}

// AutoTransport routes stream URLs to Net and everything else to Serial.
type AutoTransport struct {
	Serial *SerialTransport
	Net    *NetTransport
}

// NewAutoTransport returns a transport that handles both serial ports and
// stream URLs.
func NewAutoTransport() *AutoTransport {
	return &AutoTransport{Serial: NewSerialTransport(), Net: NewNetTransport()}
}

// Available implements Transport. A network reader can always be dialled,
// so only a missing serial stack and a missing net transport make this
// false.
func (a *AutoTransport) Available() bool {
	if a.Net != nil {
		return true
	}
	return a.Serial != nil && a.Serial.Available()
}

// Open implements Transport.
func (a *AutoTransport) Open(ctx context.Context, line LineConfig) (Session, error) {
	if IsStreamURL(line.Device) {
		if a.Net == nil {
			return nil, fmt.Errorf("%w: no network transport for %q", ErrUnsupportedDevice, line.Device)
		}
		return a.Net.Open(ctx, line)
	}
	if a.Serial == nil {
		return nil, fmt.Errorf("%w: no serial transport for %q", ErrUnsupportedDevice, line.Device)
	}
	return a.Serial.Open(ctx, line)
}

// IsStreamURL reports whether device names a tcp:// or unix:// stream.
func IsStreamURL(device string) bool {
	return strings.HasPrefix(device, "tcp://") || strings.HasPrefix(device, "unix://")
}
