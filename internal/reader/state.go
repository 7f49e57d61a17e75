package reader

import (
	"errors"
	"time"
)

// ConnectionState is the reader's position in its lifecycle.
type ConnectionState int

const (
	StateOffline ConnectionState = iota
	StateReady
	StateScanning
	StateError
)

// String returns the state name used by the API and MQTT.
func (s ConnectionState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateReady:
		return "ready"
	case StateScanning:
		return "scanning"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Errors returned by the Manager and transports.
var (
	// ErrDevice wraps every transport failure (open, read or close).
	ErrDevice = errors.New("reader: device error")

	ErrAlreadyScanning   = errors.New("reader: a device is already being read")
	ErrUnavailable       = errors.New("reader: no streaming transport on this host")
	ErrNoDevice          = errors.New("reader: no device selected")
	ErrUnsupportedDevice = errors.New("reader: unsupported device")

	// ErrStreamEnded means the device signalled end of data.
	ErrStreamEnded = errors.New("reader: stream ended")
)

// StateChange is passed to state listeners.
type StateChange struct {
	State  ConnectionState `json:"state"`
	Device string          `json:"device,omitempty"`
	Error  string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`

	// seq orders changes from one manager; listeners never see it go back.
	seq uint64
}

// Stats holds operational counters for the reader.
type Stats struct {
	State        ConnectionState `json:"state"`
	Device       string          `json:"device,omitempty"`
	Line         string          `json:"line"`
	LastError    string          `json:"last_error,omitempty"`
	FramesRx     uint64          `json:"frames_rx"`
	BytesRx      uint64          `json:"bytes_rx"`
	ReadErrors   uint64          `json:"read_errors"`
	Connects     uint64          `json:"connects"`
	LastActivity time.Time       `json:"last_activity,omitzero"`
}
