package directory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// snapshot is an immutable index over one directory listing.
type snapshot struct {
	byCredential map[string]*PersonRecord
	byPersonID   map[string]*PersonRecord
	byAlias      map[string]*PersonRecord
	loadedAt     time.Time
	size         int
}

func buildSnapshot(records []PersonRecord) *snapshot {
	s := &snapshot{
		byCredential: make(map[string]*PersonRecord, len(records)),
		byPersonID:   make(map[string]*PersonRecord, len(records)),
		byAlias:      make(map[string]*PersonRecord),
		loadedAt:     time.Now().UTC(),
		size:         len(records),
	}
	for i := range records {
		p := records[i].Clone()
		rec := &p
		if k := canonicalKey(p.CredentialID); k != "" {
			if _, dup := s.byCredential[k]; !dup {
				s.byCredential[k] = rec
			}
		}
		if k := canonicalKey(p.PersonID); k != "" {
			if _, dup := s.byPersonID[k]; !dup {
				s.byPersonID[k] = rec
			}
		}
		for _, a := range p.Aliases {
			if k := canonicalKey(a); k != "" {
				if _, dup := s.byAlias[k]; !dup {
					s.byAlias[k] = rec
				}
			}
		}
	}
	return s
}

// SnapshotCache is the local directory tier.
//
// Lookups check the credential index, then person IDs, then aliases. The
// first match wins. Keys are compared in uppercase so a canonical hex
// identifier matches however the directory spelled it.
//
// Thread Safety:
//   - FindLocal is lock-free. Replace swaps the whole index atomically.
type SnapshotCache struct {
	current  atomic.Pointer[snapshot]
	logger   Logger
	onChange atomic.Pointer[func(size int)]
}

// NewSnapshotCache returns an empty cache.
func NewSnapshotCache() *SnapshotCache {
	c := &SnapshotCache{logger: noopLogger{}}
	c.current.Store(buildSnapshot(nil))
	return c
}

// SetLogger sets the logger for the cache.
func (c *SnapshotCache) SetLogger(logger Logger) {
	c.logger = logger
}

// FindLocal looks id up in the current snapshot.
func (c *SnapshotCache) FindLocal(id string) (PersonRecord, bool) {
	key := canonicalKey(id)
	if key == "" {
		return PersonRecord{}, false
	}

	s := c.current.Load()
	for _, index := range []map[string]*PersonRecord{s.byCredential, s.byPersonID, s.byAlias} {
		if p, ok := index[key]; ok {
			return p.Clone(), true
		}
	}
	return PersonRecord{}, false
}

// OnReplace registers fn to be called with the new size after every
// Replace. Only the last registration is kept.
func (c *SnapshotCache) OnReplace(fn func(size int)) {
	c.onChange.Store(&fn)
}

// Replace installs a new snapshot built from records.
func (c *SnapshotCache) Replace(records []PersonRecord) {
	s := buildSnapshot(records)
	c.current.Store(s)
	if fn := c.onChange.Load(); fn != nil && *fn != nil {
		(*fn)(s.size)
	}
}

// Refresh reloads the snapshot from src. On error the previous snapshot
// stays in place.
func (c *SnapshotCache) Refresh(ctx context.Context, src Lister) error {
	records, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}
	c.Replace(records)
	c.logger.Info("directory cache refreshed", "count", len(records))
	return nil
}

// RefreshEvery calls Refresh on each tick until ctx is cancelled. Errors
// are logged and the stale snapshot kept.
func (c *SnapshotCache) RefreshEvery(ctx context.Context, src Lister, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx, src); err != nil {
				c.logger.Warn("directory refresh failed, keeping previous snapshot", "error", err)
			}
		}
	}
}

// Size returns the number of records in the current snapshot.
func (c *SnapshotCache) Size() int {
	return c.current.Load().size
}

// LoadedAt returns when the current snapshot was built.
func (c *SnapshotCache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}
