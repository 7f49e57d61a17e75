package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// credentialKeyPrefix namespaces directory hashes in the shared mirror.
const credentialKeyPrefix = "rollcall:credential:"

// RedisRemote reads a directory mirror kept in Redis. Each credential is a
// hash with person_id, display_name and an optional comma-separated
// aliases field.
type RedisRemote struct {
	client *redis.Client
}

// NewRedisRemote wraps an existing client.
func NewRedisRemote(client *redis.Client) *RedisRemote {
	return &RedisRemote{client: client}
}

// DialRedisRemote parses a redis:// URL and returns a remote over a new
// client. The connection is not verified here; the connectivity probe
// does that.
func DialRedisRemote(rawURL string) (*RedisRemote, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return NewRedisRemote(redis.NewClient(opts)), nil
}

// FindByCredential looks up the hash for credential id.
func (r *RedisRemote) FindByCredential(ctx context.Context, id string) (PersonRecord, error) {
	fields, err := r.client.HGetAll(ctx, credentialKeyPrefix+canonicalKey(id)).Result()
	if err != nil {
		return PersonRecord{}, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	// HGETALL on a missing key returns an empty map, not redis.Nil.
	if len(fields) == 0 || fields["person_id"] == "" {
		return PersonRecord{}, ErrNotFound
	}
	return recordFromHash(id, fields), nil
}

// recordFromHash maps a mirror hash to a PersonRecord.
func recordFromHash(id string, fields map[string]string) PersonRecord {
	p := PersonRecord{
		PersonID:     fields["person_id"],
		DisplayName:  fields["display_name"],
		CredentialID: canonicalKey(id),
	}
	if aliases := fields["aliases"]; aliases != "" {
		for _, a := range strings.Split(aliases, ",") {
			if a = strings.TrimSpace(a); a != "" {
				p.Aliases = append(p.Aliases, a)
			}
		}
	}
	return p
}

// Publish writes p into the mirror under its credential. The enrolment
// endpoint calls it so other sites see new cards before their next full
// sync. A person without a credential is not mirrored.
func (r *RedisRemote) Publish(ctx context.Context, p PersonRecord) error {
	key := canonicalKey(p.CredentialID)
	if key == "" {
		return nil
	}
	err := r.client.HSet(ctx, credentialKeyPrefix+key, map[string]any{
		"person_id":    p.PersonID,
		"display_name": p.DisplayName,
		"aliases":      strings.Join(p.Aliases, ","),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return nil
}

// HealthCheck pings the Redis server.
func (r *RedisRemote) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}
