package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists the local directory in the people and
// person_aliases tables.
type SQLiteStore struct {
	db         *sql.DB
	credential CredentialRule
}

// CredentialRule reduces an enrolled credential to the canonical form scans
// resolve against, or rejects it.
type CredentialRule func(raw string) (string, error)

// NewSQLiteStore creates a directory store over db. Until SetCredentialRule
// is called, credentials are only trimmed and uppercased.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SetCredentialRule sets the rule applied to credentials on Upsert. Set it
// before the store is shared.
func (s *SQLiteStore) SetCredentialRule(rule CredentialRule) {
	s.credential = rule
}

func (s *SQLiteStore) canonicalCredential(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	if s.credential == nil {
		return canonicalKey(raw), nil
	}
	id, err := s.credential(raw)
	if err != nil {
		return "", errors.Join(ErrInvalidPerson, fmt.Errorf("credential_id %q: %w", raw, err))
	}
	return id, nil
}

// List returns every enrolled person ordered by person ID.
func (s *SQLiteStore) List(ctx context.Context) ([]PersonRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT person_id, display_name, credential_id FROM people ORDER BY person_id`)
	if err != nil {
		return nil, fmt.Errorf("querying people: %w", err)
	}
	defer rows.Close()

	var people []PersonRecord
	index := make(map[string]int)
	for rows.Next() {
		var p PersonRecord
		var credential sql.NullString
		if err := rows.Scan(&p.PersonID, &p.DisplayName, &credential); err != nil {
			return nil, fmt.Errorf("scanning person: %w", err)
		}
		p.CredentialID = credential.String
		index[p.PersonID] = len(people)
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating people: %w", err)
	}

	aliasRows, err := s.db.QueryContext(ctx,
		`SELECT person_id, alias FROM person_aliases ORDER BY person_id, alias`)
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer aliasRows.Close()

	for aliasRows.Next() {
		var personID, alias string
		if err := aliasRows.Scan(&personID, &alias); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		if i, ok := index[personID]; ok {
			people[i].Aliases = append(people[i].Aliases, alias)
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aliases: %w", err)
	}

	return people, nil
}

// Get returns one person by ID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, personID string) (PersonRecord, error) {
	var p PersonRecord
	var credential sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT person_id, display_name, credential_id FROM people WHERE person_id = ?`, personID,
	).Scan(&p.PersonID, &p.DisplayName, &credential)
	if errors.Is(err, sql.ErrNoRows) {
		return PersonRecord{}, ErrNotFound
	}
	if err != nil {
		return PersonRecord{}, fmt.Errorf("querying person: %w", err)
	}
	p.CredentialID = credential.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT alias FROM person_aliases WHERE person_id = ? ORDER BY alias`, personID)
	if err != nil {
		return PersonRecord{}, fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return PersonRecord{}, fmt.Errorf("scanning alias: %w", err)
		}
		p.Aliases = append(p.Aliases, alias)
	}
	return p, rows.Err()
}

// Upsert enrols or updates a person and replaces their aliases.
//
// The credential is stored in the form the credential rule produces, so
// "04:5a:2e:92" is kept as "045A2E92". A credential the rule rejects
// returns ErrInvalidPerson. Enrolling a
// credential or alias that belongs to someone else returns
// ErrCredentialInUse.
func (s *SQLiteStore) Upsert(ctx context.Context, p PersonRecord) error {
	if err := p.Validate(); err != nil {
		return err
	}
	credential, err := s.canonicalCredential(p.CredentialID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO people (person_id, display_name, credential_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			display_name = excluded.display_name,
			credential_id = excluded.credential_id,
			updated_at = excluded.updated_at`,
		p.PersonID, p.DisplayName, nullableString(credential), now, now,
	)
	if err != nil {
		return classifyWriteError("upserting person", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM person_aliases WHERE person_id = ?`, p.PersonID); err != nil {
		return fmt.Errorf("clearing aliases: %w", err)
	}
	for _, alias := range p.Aliases {
		if alias == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO person_aliases (alias, person_id) VALUES (?, ?)`, alias, p.PersonID,
		); err != nil {
			return classifyWriteError("inserting alias", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing person: %w", err)
	}
	return nil
}

func classifyWriteError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w", op, ErrCredentialInUse)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullableString returns nil for empty strings so TEXT columns store NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
