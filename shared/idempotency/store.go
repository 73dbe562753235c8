package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record tracks one command identifier.
type Record struct {
	Key         string          `json:"key" db:"key"`
	Status      Status          `json:"status" db:"status"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	LockedAt    time.Time       `json:"locked_at" db:"locked_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

func (r *Record) IsComplete() bool {
	return r.Status == StatusCompleted
}

// LeaseExpired reports whether a pending record may be taken over.
func (r *Record) LeaseExpired(now time.Time, lease time.Duration) bool {
	return r.Status == StatusPending && lease > 0 && !now.Before(r.LockedAt.Add(lease))
}

// Store persists idempotency records. Claim is a compare-and-set per key:
// it inserts a pending record, or takes over a pending record whose lease
// expired, and reports whether the caller now owns the key. When it does
// not, the current record is returned.
type Store interface {
	Claim(ctx context.Context, key string, lease time.Duration) (*Record, bool, error)
	Complete(ctx context.Context, key string, result json.RawMessage) error
	Release(ctx context.Context, key string) error
	// Get returns nil, nil when the key is unknown.
	Get(ctx context.Context, key string) (*Record, error)
}
