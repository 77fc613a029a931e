package session

import (
	"context"
	"fmt"
	"time"
)

// Store is the shared source of truth for Session Records. Implementations
// must be safe for concurrent use from multiple processes where the underlying
// medium allows it (redis, sqlite); exclusivity guarantees live here, never in
// process memory.
type Store interface {
	// Get returns the record for sessionID, surfacing logical TTL expiry:
	// a past-TTL non-terminal record reads as EXPIRED. Returns ErrNotFound
	// for unknown IDs.
	Get(ctx context.Context, sessionID string) (Record, error)

	// Put creates or overwrites the record under rec.SessionID.
	Put(ctx context.Context, rec Record) error

	// CompareAndTransition atomically moves the record from expected to next,
	// applying mutate to the record before persisting. Fails with ErrStaleState
	// when the observed state differs from expected, ErrNotFound when the
	// record is gone. This is the primitive behind finalize exclusivity.
	CompareAndTransition(ctx context.Context, sessionID string, expected, next State, mutate func(*Record)) (Record, error)

	// AcquireLease claims the finalize lease for sessionID, returning an
	// opaque token needed to release it. Fails with ErrLeaseHeld while another
	// holder's lease is live; leases self-expire after ttl.
	AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, error)

	// ReleaseLease releases the lease if token still owns it. Releasing an
	// expired or replaced lease is a no-op.
	ReleaseLease(ctx context.Context, sessionID, token string) error

	// List returns all live records, expiry-adjusted like Get.
	List(ctx context.Context) ([]Record, error)

	// Delete removes the record. Unknown IDs are a no-op.
	Delete(ctx context.Context, sessionID string) error

	// Ping verifies the backing medium is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. The store rejects further calls afterwards.
	Close() error
}

// Store backend names accepted by Options.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a store backend.
type Options struct {
	// Backend is one of memory, redis, sqlite.
	Backend string
	// SessionTTL bounds how long a non-terminal record stays actionable.
	SessionTTL time.Duration
	// Redis configures the redis backend.
	Redis RedisOptions
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
}

// NewStore creates the store selected by opts.Backend.
func NewStore(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.SessionTTL), nil
	case BackendRedis:
		return NewRedisStore(opts.Redis, opts.SessionTTL)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath, opts.SessionTTL)
	default:
		return nil, fmt.Errorf("unknown store backend: %q", opts.Backend)
	}
}
