package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on redis. It is the backend of choice when
// multiple service instances share the session space; record TTLs are enforced
// both by redis key expiry and by the logical created_at check.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// RedisOptions holds redis connection configuration.
type RedisOptions struct {
	// Addr is the redis server address (host:port).
	Addr string
	// Password is the redis password (optional).
	Password string
	// DB is the redis database number.
	DB int
	// Prefix is the key prefix for all store keys (default: "linkcap:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a redis-backed store and verifies connectivity.
func NewRedisStore(opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisStore(client, opts.Prefix, ttl), nil
}

// NewRedisStoreFromClient creates a redis store from an existing client.
// Useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return newRedisStore(client, prefix, ttl)
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "linkcap:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) leaseKey(sessionID string) string {
	return s.prefix + "lease:" + sessionID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "sessions"
}

func (s *RedisStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the record for sessionID, expiry-adjusted.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Record, error) {
	if err := s.guard(); err != nil {
		return Record{}, err
	}

	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}

	return withExpiry(rec, s.now(), s.ttl), nil
}

// Put creates or overwrites the record and registers it in the session index.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if err := s.guard(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.sessionKey(rec.SessionID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), rec.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// CompareAndTransition atomically moves the record from expected to next using
// an optimistic WATCH transaction; a concurrent write between read and commit
// surfaces as ErrStaleState.
func (s *RedisStore) CompareAndTransition(ctx context.Context, sessionID string, expected, next State, mutate func(*Record)) (Record, error) {
	if err := s.guard(); err != nil {
		return Record{}, err
	}

	key := s.sessionKey(sessionID)
	var updated Record

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}

		observed := withExpiry(rec, s.now(), s.ttl)
		if observed.State != expected {
			return ErrStaleState
		}

		rec.State = next
		if mutate != nil {
			mutate(&rec)
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		updated = rec
		return nil
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return Record{}, ErrStaleState
		}
		return Record{}, err
	}
	return updated, nil
}

// AcquireLease claims the finalize lease via SET NX with expiry.
func (s *RedisStore) AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	token, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	ok, err := s.client.SetNX(ctx, s.leaseKey(sessionID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}
	return token, nil
}

// ReleaseLease deletes the lease only while token still owns it.
func (s *RedisStore) ReleaseLease(ctx context.Context, sessionID, token string) error {
	if err := s.guard(); err != nil {
		return err
	}

	key := s.leaseKey(sessionID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		if current != token {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// List returns all indexed records, pruning index entries whose keys expired.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Key expired out from under the index.
				s.client.SRem(ctx, s.indexKey(), id)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes the record, its lease, and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	pipe.Del(ctx, s.leaseKey(sessionID))
	pipe.SRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
