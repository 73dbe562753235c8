package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   models.Clock
}

func NewMemoryStore(clock models.Clock) *MemoryStore {
	if clock == nil {
		clock = models.SystemClock
	}
	return &MemoryStore{records: map[string]*Record{}, clock: clock}
}

func (s *MemoryStore) Claim(_ context.Context, key string, lease time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if existing, ok := s.records[key]; ok && !existing.LeaseExpired(now, lease) {
		return copyRecord(existing), false, nil
	}

	rec := &Record{Key: key, Status: StatusPending, LockedAt: now}
	s.records[key] = rec
	return copyRecord(rec), true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return errors.Wrapf(ErrRecordNotFound, "key %s", key)
	}

	now := s.clock()
	rec.Status = StatusCompleted
	rec.Result = append(json.RawMessage(nil), result...)
	rec.CompletedAt = &now
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.Status == StatusPending {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Result = append(json.RawMessage(nil), r.Result...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
