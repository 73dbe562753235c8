package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Guard runs commands at most once per command identifier.
type Guard struct {
	store        Store
	namespace    string
	lease        time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
	clock        models.Clock
	logger       *slog.Logger
	waiters      singleflight.Group
}

type GuardOption func(*Guard)

// WithNamespace prefixes stored keys so two commands never share an identifier space.
func WithNamespace(namespace string) GuardOption {
	return func(g *Guard) {
		g.namespace = namespace
	}
}

// WithLease sets how long a pending claim is honoured before another caller may take it over.
func WithLease(lease time.Duration) GuardOption {
	return func(g *Guard) {
		g.lease = lease
	}
}

func WithPollInterval(interval time.Duration) GuardOption {
	return func(g *Guard) {
		g.pollInterval = interval
	}
}

func WithWaitTimeout(timeout time.Duration) GuardOption {
	return func(g *Guard) {
		g.waitTimeout = timeout
	}
}

func WithClock(clock models.Clock) GuardOption {
	return func(g *Guard) {
		g.clock = clock
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:        store,
		namespace:    "command",
		lease:        5 * time.Minute,
		pollInterval: 100 * time.Millisecond,
		waitTimeout:  30 * time.Second,
		clock:        models.SystemClock,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type executeOptions struct {
	duplicate    any
	hasDuplicate bool
	reject       bool
}

type ExecuteOption func(*executeOptions)

// WithDuplicateResult resolves a duplicate observed while the first
// execution is pending to v instead of waiting for the stored result.
func WithDuplicateResult(v any) ExecuteOption {
	return func(o *executeOptions) {
		o.duplicate = v
		o.hasDuplicate = true
	}
}

// WithRejectDuplicates fails a duplicate observed while the first execution
// is pending with *DuplicateExecutionError.
func WithRejectDuplicates() ExecuteOption {
	return func(o *executeOptions) {
		o.reject = true
	}
}

// Execute invokes op at most once for commandID. A completed command returns
// its stored result. A failed op releases the key so the command can be retried.
func Execute[T any](ctx context.Context, g *Guard, commandID string, op func(ctx context.Context) (T, error), opts ...ExecuteOption) (T, error) {
	var zero T

	id, err := models.NewID(commandID)
	if err != nil {
		return zero, errors.Wrapf(ErrInvalidCommandID, "%q", commandID)
	}

	o := &executeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	key := g.namespace + ":" + id.String()

	for {
		rec, claimed, err := g.store.Claim(ctx, key, g.lease)
		if err != nil {
			return zero, err
		}

		if claimed {
			g.record(ctx, "executed")
			return run(ctx, g, key, op)
		}

		if rec == nil {
			// Released between the insert attempt and the read, claim again.
			continue
		}

		if rec.IsComplete() {
			g.record(ctx, "replayed")
			return decode[T](rec)
		}

		switch {
		case o.reject:
			g.record(ctx, "rejected")
			return zero, &DuplicateExecutionError{CommandID: id.String()}
		case o.hasDuplicate:
			v, ok := o.duplicate.(T)
			if !ok {
				return zero, errors.Errorf("duplicate result %T is not assignable to %T", o.duplicate, zero)
			}
			g.record(ctx, "duplicate")
			return v, nil
		}

		rec, err = g.wait(ctx, key)
		if err != nil {
			return zero, err
		}

		if rec != nil && rec.IsComplete() {
			g.record(ctx, "waited")
			return decode[T](rec)
		}
	}
}

func run[T any](ctx context.Context, g *Guard, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := op(ctx)
	if err != nil {
		if releaseErr := g.store.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			g.logger.ErrorContext(ctx, "failed to release idempotency key", "key", key, "error", releaseErr)
		}
		return zero, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return zero, errors.Wrap(err, "failed to encode command result")
	}

	if err := g.store.Complete(context.WithoutCancel(ctx), key, raw); err != nil {
		// The side effect happened; keep the claim so the lease blocks re-execution.
		g.logger.ErrorContext(ctx, "failed to store command result", "key", key, "error", err)
		return zero, err
	}

	return result, nil
}

func decode[T any](rec *Record) (T, error) {
	var out T
	if len(rec.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return out, errors.Wrap(err, "failed to decode stored command result")
	}
	return out, nil
}

// wait polls the store until the key completes, disappears or its lease
// expires. Concurrent waiters on one key share a single poll loop.
func (g *Guard) wait(ctx context.Context, key string) (*Record, error) {
	ch := g.waiters.DoChan(key, func() (interface{}, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.waitTimeout)
		defer cancel()
		return g.poll(pollCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*Record)
		return rec, nil
	}
}

func (g *Guard) poll(ctx context.Context, key string) (*Record, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrWaitTimeout, "key %s", key)
		case <-ticker.C:
		}

		rec, err := g.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if rec == nil || rec.IsComplete() || rec.LeaseExpired(g.clock(), g.lease) {
			return rec, nil
		}
	}
}

func (g *Guard) record(ctx context.Context, status string) {
	telemetry.RecordCounter(ctx, "idempotency_commands_total", "Idempotent command resolutions", 1,
		attribute.String("namespace", g.namespace),
		attribute.String("status", status),
	)
}
