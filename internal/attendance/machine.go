package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Machine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Machine decides whether a requested transition is legal and, if so,
// appends the record.
//
// Thread Safety:
//   - Safe for concurrent use. Requests for the same person run one at a
//     time; requests for different people run in parallel.
type Machine struct {
	ledger Ledger
	locks  *keyedMutex
	now    func() time.Time
	logger Logger
}

// NewMachine creates a state machine over ledger.
func NewMachine(ledger Ledger) *Machine {
	return &Machine{
		ledger: ledger,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// Ledger returns the ledger the machine writes to.
func (m *Machine) Ledger() Ledger {
	return m.ledger
}

// Status returns a person's current status. It does not take the person
// lock; the answer may be stale by the time the caller acts on it.
func (m *Machine) Status(ctx context.Context, personID string) (Status, error) {
	status, err := CurrentStatus(ctx, m.ledger, personID)
	if err != nil {
		return StatusUnknown, fmt.Errorf("%w: %w", ErrLedgerRead, err)
	}
	return status, nil
}

// RequestTransition asks for a specific record type.
//
// Returns:
//   - *Record: the appended record on acceptance
//   - error: *RejectionError for an illegal transition, ErrLedgerRead or
//     ErrLedgerWrite for storage failures, ErrInvalidRequest for bad input
func (m *Machine) RequestTransition(ctx context.Context, person Person, requested Type, method Method) (*Record, error) {
	if !requested.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidRequest, requested)
	}
	return m.transition(ctx, person, method, func(Status) Type { return requested })
}

// RequestMode resolves the record type from mode and the person's status,
// reading the status under the same lock as the append.
func (m *Machine) RequestMode(ctx context.Context, person Person, mode Mode, method Method) (*Record, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return m.transition(ctx, person, method, mode.TypeFor)
}

func (m *Machine) transition(ctx context.Context, person Person, method Method, choose func(Status) Type) (*Record, error) {
	if person.ID == "" {
		return nil, fmt.Errorf("%w: empty person id", ErrInvalidRequest)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: method %q", ErrInvalidRequest, method)
	}

	unlock := m.locks.Lock(person.ID)
	defer unlock()

	status, err := CurrentStatus(ctx, m.ledger, person.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerRead, err)
	}

	requested := choose(status)
	if reason := rejection(status, requested); reason != nil {
		m.logger.Debug("transition rejected",
			"person_id", person.ID, "status", status, "requested", requested, "reason", reason)
		return nil, &RejectionError{Reason: reason, PersonID: person.ID, Status: status}
	}

	rec := &Record{
		ID:           "att-" + uuid.NewString(),
		PersonID:     person.ID,
		DisplayName:  person.DisplayName,
		CredentialID: person.CredentialID,
		Timestamp:    m.now(),
		Type:         requested,
		Method:       method,
	}
	if err := m.ledger.Append(ctx, rec); err != nil {
		m.logger.Error("ledger append failed", "person_id", person.ID, "type", requested, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	m.logger.Info("attendance recorded",
		"person_id", person.ID, "type", rec.Type, "method", rec.Method, "record_id", rec.ID)
	return rec, nil
}

// rejection returns the reason requested is illegal from status, or nil.
func rejection(status Status, requested Type) error {
	switch requested {
	case TypeCheckIn:
		if status == StatusCheckedIn {
			return ErrAlreadyCheckedIn
		}
	case TypeCheckOut:
		switch status {
		case StatusCheckedOut:
			return ErrAlreadyCheckedOut
		case StatusUnknown:
			return ErrNoActiveSession
		}
	}
	return nil
}
