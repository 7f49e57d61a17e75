package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteLedger stores records in the attendance_records table. The table
// has no UPDATE or DELETE path; triggers reject both.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates a ledger over db.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

const recordColumns = "id, person_id, display_name, credential_id, type, method, recorded_at"

// timeLayout is fixed width so recorded_at sorts and compares as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Latest implements Ledger. "Latest" is append order, not timestamp order,
// so a clock step backwards cannot reorder a person's history.
func (l *SQLiteLedger) Latest(ctx context.Context, personID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM attendance_records WHERE person_id = ? ORDER BY seq DESC LIMIT 1",
		personID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest record: %w", err)
	}
	return rec, nil
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, rec *Record) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO attendance_records ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.PersonID, rec.DisplayName, nullableString(rec.CredentialID),
		string(rec.Type), string(rec.Method), rec.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting attendance record: %w", err)
	}
	return nil
}

// History implements Ledger.
func (l *SQLiteLedger) History(ctx context.Context, filter Filter) ([]Record, error) {
	var conditions []string
	var args []any

	if filter.PersonID != "" {
		conditions = append(conditions, "person_id = ?")
		args = append(args, filter.PersonID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.limit())

	query := "SELECT " + recordColumns + " FROM attendance_records " + where + " ORDER BY seq DESC LIMIT ?" //nolint:gosec // WHERE built from fixed conditions
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attendance history: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attendance record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attendance history: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var credential sql.NullString
	var typ, method, recordedAt string

	if err := s.Scan(&rec.ID, &rec.PersonID, &rec.DisplayName, &credential, &typ, &method, &recordedAt); err != nil {
		return nil, err
	}

	ts, err := time.Parse(timeLayout, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", recordedAt, err)
	}
	rec.CredentialID = credential.String
	rec.Type = Type(typ)
	rec.Method = Method(method)
	rec.Timestamp = ts
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
