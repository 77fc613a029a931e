package session

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MemoryStore keeps records in process memory. Suitable for single-instance
// deployments and tests; state does not survive restarts and is invisible to
// other processes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	leases  map[string]memoryLease
	ttl     time.Duration
	now     func() time.Time
	closed  bool
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with the given session TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		leases:  make(map[string]memoryLease),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the record for sessionID, expiry-adjusted.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := s.records[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return withExpiry(rec, s.now(), s.ttl), nil
}

// Put creates or overwrites the record.
func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.records[rec.SessionID] = rec
	return nil
}

// CompareAndTransition atomically moves the record from expected to next.
func (s *MemoryStore) CompareAndTransition(ctx context.Context, sessionID string, expected, next State, mutate func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := s.records[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}

	observed := withExpiry(rec, s.now(), s.ttl)
	if observed.State != expected {
		return Record{}, ErrStaleState
	}

	rec.State = next
	if mutate != nil {
		mutate(&rec)
	}
	s.records[sessionID] = rec
	return rec, nil
}

// AcquireLease claims the finalize lease for sessionID.
func (s *MemoryStore) AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	if lease, ok := s.leases[sessionID]; ok && s.now().Before(lease.expiresAt) {
		return "", ErrLeaseHeld
	}

	token, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	s.leases[sessionID] = memoryLease{token: token, expiresAt: s.now().Add(ttl)}
	return token, nil
}

// ReleaseLease releases the lease if token still owns it.
func (s *MemoryStore) ReleaseLease(ctx context.Context, sessionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if lease, ok := s.leases[sessionID]; ok && lease.token == token {
		delete(s.leases, sessionID)
	}
	return nil
}

// List returns all records, expiry-adjusted.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := s.now()
	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, withExpiry(rec, now, s.ttl))
	}
	return records, nil
}

// Delete removes the record and any lease for sessionID.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.records, sessionID)
	delete(s.leases, sessionID)
	return nil
}

// Ping reports store availability.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close shuts the store down.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
