package scan

import "time"

// Source identifies where a frame came from.
type Source string

const (
	// SourceDevice is a frame read from a card reader.
	SourceDevice Source = "device"

	// SourceManual is an identifier typed by an operator.
	SourceManual Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceDevice || s == SourceManual
}

// RawFrame is one discrete unit of input before normalization.
type RawFrame struct {
	Payload   string
	ArrivedAt time.Time
	Source    Source
}

// DeviceFrame builds a device RawFrame stamped with the current time.
func DeviceFrame(payload string) RawFrame {
	return RawFrame{Payload: payload, ArrivedAt: time.Now().UTC(), Source: SourceDevice}
}

// ManualFrame builds a manual RawFrame stamped with the current time.
func ManualFrame(text string) RawFrame {
	return RawFrame{Payload: text, ArrivedAt: time.Now().UTC(), Source: SourceManual}
}

// CanonicalID is a normalized credential identifier. Two frames that
// normalize to the same CanonicalID denote the same credential.
type CanonicalID string

func (id CanonicalID) String() string { return string(id) }

// Event is an accepted scan. It is created once per accepted frame and
// never modified.
type Event struct {
	ID        CanonicalID `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Source    Source      `json:"source"`
}
