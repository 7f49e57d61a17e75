package directory

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var (
	// ErrNotFound means no directory tier knows the identifier.
	ErrNotFound = errors.New("directory: person not found")

	// ErrInvalidPerson is returned when enrolling a record without an ID or name.
	ErrInvalidPerson = errors.New("directory: invalid person record")

	// ErrCredentialInUse means the credential is already enrolled to another person.
	ErrCredentialInUse = errors.New("directory: credential already enrolled")

	// ErrRemoteUnavailable wraps transport failures talking to a remote directory.
	ErrRemoteUnavailable = errors.New("directory: remote unavailable")
)

// PersonRecord is a directory entry. The directory owns it; this package
// hands out copies and never mutates them.
type PersonRecord struct {
	PersonID     string   `json:"person_id"`
	DisplayName  string   `json:"display_name"`
	CredentialID string   `json:"credential_id,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

// Clone returns a copy that shares no memory with p.
func (p PersonRecord) Clone() PersonRecord {
	p.Aliases = slices.Clone(p.Aliases)
	return p
}

// Validate checks the fields required for enrolment.
func (p PersonRecord) Validate() error {
	if strings.TrimSpace(p.PersonID) == "" {
		return errors.Join(ErrInvalidPerson, errors.New("person_id is required"))
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return errors.Join(ErrInvalidPerson, errors.New("display_name is required"))
	}
	return nil
}

// Cache is the synchronous local lookup.
type Cache interface {
	FindLocal(id string) (PersonRecord, bool)
}

// Remote is a network directory queried by credential.
//
// FindByCredential returns ErrNotFound when the remote answers that the
// credential is unknown, and any other error for transport problems.
type Remote interface {
	FindByCredential(ctx context.Context, id string) (PersonRecord, error)
	HealthCheck(ctx context.Context) error
}

// Connectivity reports whether remote lookups are worth attempting.
type Connectivity interface {
	IsOnline() bool
}

// Lister supplies a full directory listing for snapshot refresh.
type Lister interface {
	List(ctx context.Context) ([]PersonRecord, error)
}

// Logger defines the logging interface used by this package.
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

// canonicalKey is the form identifiers are indexed and looked up under.
func canonicalKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
