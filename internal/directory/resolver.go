package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rollcall/internal/scan"
)

// Tier names where a resolution was answered.
type Tier string

const (
	TierLocal  Tier = "local"
	TierRemote Tier = "remote"
	TierNone   Tier = "none"
)

// Resolver maps canonical identifiers to people, local tier first.
//
// Thread Safety:
//   - Safe for concurrent use. Resolve never writes to any tier.
type Resolver struct {
	cache   Cache
	remote  Remote
	online  Connectivity
	timeout time.Duration
	logger  Logger

	localHits      atomic.Uint64
	remoteHits     atomic.Uint64
	remoteSkipped  atomic.Uint64
	remoteFailures atomic.Uint64
	misses         atomic.Uint64
}

// ResolverStats counts resolutions by outcome.
type ResolverStats struct {
	LocalHits      uint64 `json:"local_hits"`
	RemoteHits     uint64 `json:"remote_hits"`
	RemoteSkipped  uint64 `json:"remote_skipped"`
	RemoteFailures uint64 `json:"remote_failures"`
	Misses         uint64 `json:"misses"`
}

// NewResolver creates a resolver. remote and online may be nil, in which
// case resolution is local only. timeout bounds each remote call.
func NewResolver(cache Cache, remote Remote, online Connectivity, timeout time.Duration) *Resolver {
	if online == nil {
		online = StaticConnectivity(remote != nil)
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Resolver{
		cache:   cache,
		remote:  remote,
		online:  online,
		timeout: timeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Resolve returns the person holding id.
//
// Order:
//  1. local snapshot (credential, person ID, alias)
//  2. remote by credential, only if online, bounded by the resolver timeout
//
// Every remote failure, including timeout, yields ErrNotFound. The
// underlying error is logged and counted, never returned.
func (r *Resolver) Resolve(ctx context.Context, id scan.CanonicalID) (PersonRecord, error) {
	p, _, err := r.ResolveTier(ctx, id)
	return p, err
}

// ResolveTier is Resolve that also reports which tier answered.
func (r *Resolver) ResolveTier(ctx context.Context, id scan.CanonicalID) (PersonRecord, Tier, error) {
	if p, ok := r.cache.FindLocal(id.String()); ok {
		r.localHits.Add(1)
		return p, TierLocal, nil
	}

	if r.remote == nil || !r.online.IsOnline() {
		r.remoteSkipped.Add(1)
		r.misses.Add(1)
		return PersonRecord{}, TierNone, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p, err := r.remote.FindByCredential(ctx, id.String())
	switch {
	case err == nil:
		r.remoteHits.Add(1)
		return p, TierRemote, nil
	case errors.Is(err, ErrNotFound):
		r.misses.Add(1)
	default:
		r.remoteFailures.Add(1)
		r.misses.Add(1)
		r.logger.Warn("remote directory lookup failed", "error", err)
	}
	return PersonRecord{}, TierNone, ErrNotFound
}

// Stats returns a snapshot of the resolution counters.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		LocalHits:      r.localHits.Load(),
		RemoteHits:     r.remoteHits.Load(),
		RemoteSkipped:  r.remoteSkipped.Load(),
		RemoteFailures: r.remoteFailures.Load(),
		Misses:         r.misses.Load(),
	}
}
