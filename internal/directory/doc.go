// Package directory resolves canonical credential identifiers to people.
//
// Resolution is offline-first. The Resolver consults an in-memory snapshot
// of the local directory, then, only when the Connectivity signal reports
// the network is up, a Remote directory bounded by a timeout. Remote
// failures of any kind degrade to ErrNotFound so a flaky network never
// stops a scan from completing.
//
// The snapshot is replaced whole on refresh. Readers never take a lock and
// never observe a half-built index.
//
// Remote implementations:
//   - HTTPRemote: GET {base}/people/by-credential/{id}
//   - RedisRemote: HGETALL rollcall:credential:{id} on a shared mirror
//
// Resolution never writes. Enrolment goes through SQLiteStore.Upsert and
// becomes visible on the next snapshot refresh.
package directory
