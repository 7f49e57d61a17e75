package attendance

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for tests and ephemeral kiosks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Latest implements Ledger.
func (l *MemoryLedger) Latest(_ context.Context, personID string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].PersonID == personID {
			rec := l.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.records = append(l.records, *rec)
	l.mu.Unlock()
	return nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, filter Filter) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := filter.limit()
	out := make([]Record, 0, min(limit, len(l.records)))
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := l.records[i]
		if filter.PersonID != "" && rec.PersonID != filter.PersonID {
			continue
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of records appended.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
