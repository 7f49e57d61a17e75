package dispatch

import (
	"fmt"
	"time"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/directory"
	"github.com/nerrad567/rollcall/internal/scan"
)

// Kind classifies the result of one scan.
type Kind string

const (
	KindAccepted          Kind = "accepted"
	KindInvalidFormat     Kind = "invalid_format"
	KindNotFound          Kind = "not_found"
	KindAlreadyCheckedIn  Kind = "already_checked_in"
	KindAlreadyCheckedOut Kind = "already_checked_out"
	KindNoActiveSession   Kind = "no_active_session"
	KindLedgerWrite       Kind = "ledger_write_failure"

	// KindNoise is a device frame too short to be a credential, such as a
	// stray byte on the line. It is not shown to the operator.
	KindNoise Kind = "noise"

	// KindInternalError covers ledger read failures and recovered panics.
	KindInternalError Kind = "internal_error"
)

// Kinds lists every Kind, for metrics pre-registration.
var Kinds = []Kind{
	KindAccepted, KindInvalidFormat, KindNotFound, KindAlreadyCheckedIn,
	KindAlreadyCheckedOut, KindNoActiveSession, KindLedgerWrite, KindNoise,
	KindInternalError,
}

// Outcome is what the dispatcher reports for one scan.
type Outcome struct {
	Kind        Kind                    `json:"kind"`
	Source      scan.Source             `json:"source"`
	Mode        attendance.Mode         `json:"mode"`
	CanonicalID scan.CanonicalID        `json:"canonical_id,omitempty"`
	Person      *directory.PersonRecord `json:"person,omitempty"`
	Record      *attendance.Record      `json:"record,omitempty"`

	// Status is the person's status after the scan: the new status when
	// accepted, the conflicting one when rejected.
	Status  attendance.Status `json:"status,omitempty"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`

	// Latency is the time from frame arrival to outcome.
	Latency time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Accepted reports whether a record was appended.
func (o Outcome) Accepted() bool {
	return o.Kind == KindAccepted
}

// Reportable reports whether the operator should see this outcome.
func (o Outcome) Reportable() bool {
	return o.Kind != KindNoise
}

func (o Outcome) displayName() string {
	if o.Person != nil && o.Person.DisplayName != "" {
		return o.Person.DisplayName
	}
	if o.Person != nil {
		return o.Person.PersonID
	}
	return string(o.CanonicalID)
}

// message renders the operator-facing text for o.
func message(o Outcome) string {
	switch o.Kind {
	case KindAccepted:
		if o.Record != nil && o.Record.Type == attendance.TypeCheckOut {
			return fmt.Sprintf("%s checked out", o.displayName())
		}
		return fmt.Sprintf("%s checked in", o.displayName())
	case KindInvalidFormat:
		return "Card id not recognised as a credential"
	case KindNotFound:
		return fmt.Sprintf("Card %s is not registered", o.CanonicalID)
	case KindAlreadyCheckedIn:
		return fmt.Sprintf("%s is already checked in", o.displayName())
	case KindAlreadyCheckedOut:
		return fmt.Sprintf("%s is not currently checked in", o.displayName())
	case KindNoActiveSession:
		return fmt.Sprintf("%s has no check-in to close", o.displayName())
	case KindLedgerWrite:
		return "Attendance could not be saved, please scan again"
	case KindNoise:
		return ""
	default:
		return "Something went wrong, please scan again"
	}
}
