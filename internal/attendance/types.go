package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is a person's derived attendance state.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

// Type is the kind of ledger record.
type Type string

const (
	TypeCheckIn  Type = "check_in"
	TypeCheckOut Type = "check_out"
)

// Valid reports whether t is a known record type.
func (t Type) Valid() bool {
	return t == TypeCheckIn || t == TypeCheckOut
}

// Method is how the credential was presented.
type Method string

const (
	MethodDevice Method = "device"
	MethodManual Method = "manual"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodDevice || m == MethodManual
}

// Mode is the operator-selected scanning mode.
type Mode string

const (
	ModeCheckIn  Mode = "check-in"
	ModeCheckOut Mode = "check-out"

	// ModeToggle checks a person out if they are in, and in otherwise.
	ModeToggle Mode = "toggle"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCheckIn, ModeCheckOut, ModeToggle:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// TypeFor picks the record type a scan in this mode requests, given the
// person's current status.
func (m Mode) TypeFor(current Status) Type {
	switch m {
	case ModeCheckOut:
		return TypeCheckOut
	case ModeToggle:
		if current == StatusCheckedIn {
			return TypeCheckOut
		}
		return TypeCheckIn
	default:
		return TypeCheckIn
	}
}

// Person is the subject of a transition.
type Person struct {
	ID           string
	DisplayName  string
	CredentialID string
}

// Record is one ledger entry. Once appended it is never changed.
type Record struct {
	ID           string    `json:"id"`
	PersonID     string    `json:"person_id"`
	DisplayName  string    `json:"display_name"`
	CredentialID string    `json:"credential_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Type         Type      `json:"type"`
	Method       Method    `json:"method"`
}

// ComputeStatus derives a status from the latest record for a person.
func ComputeStatus(latest *Record) Status {
	if latest == nil {
		return StatusUnknown
	}
	switch latest.Type {
	case TypeCheckIn:
		return StatusCheckedIn
	case TypeCheckOut:
		return StatusCheckedOut
	default:
		return StatusUnknown
	}
}

// Filter selects ledger history.
type Filter struct {
	PersonID string
	Since    time.Time
	Limit    int // default 50, max 500
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultHistoryLimit
	case f.Limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return f.Limit
	}
}

// Ledger is the append-only record store.
type Ledger interface {
	// Latest returns the most recently appended record for a person, or nil.
	Latest(ctx context.Context, personID string) (*Record, error)

	// Append durably stores rec. On error nothing is considered committed.
	Append(ctx context.Context, rec *Record) error

	// History returns records newest first.
	History(ctx context.Context, filter Filter) ([]Record, error)
}

// CurrentStatus derives personID's status from ledger.
func CurrentStatus(ctx context.Context, ledger Ledger, personID string) (Status, error) {
	latest, err := ledger.Latest(ctx, personID)
	if err != nil {
		return StatusUnknown, err
	}
	return ComputeStatus(latest), nil
}

var (
	ErrAlreadyCheckedIn  = errors.New("attendance: already checked in")
	ErrAlreadyCheckedOut = errors.New("attendance: already checked out")
	ErrNoActiveSession   = errors.New("attendance: no active session")

	// ErrLedgerWrite means the record was not durably appended.
	ErrLedgerWrite = errors.New("attendance: ledger write failed")

	// ErrLedgerRead means the current status could not be determined.
	ErrLedgerRead = errors.New("attendance: ledger read failed")

	ErrInvalidMode    = errors.New("attendance: invalid mode")
	ErrInvalidRequest = errors.New("attendance: invalid transition request")
)

// RejectionError is a refused transition. Reason is one of
// ErrAlreadyCheckedIn, ErrAlreadyCheckedOut or ErrNoActiveSession.
type RejectionError struct {
	Reason   error
	PersonID string
	Status   Status
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%v (person %s is %s)", e.Reason, e.PersonID, e.Status)
}

func (e *RejectionError) Unwrap() error { return e.Reason }
