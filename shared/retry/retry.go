package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	KindTransient         = "transient"
	KindInvalidAccount    = "invalid_account"
	KindInsufficientFunds = "insufficient_funds"
)

// ErrBudgetSpent is the cause of an ExhaustedError when a resumed step has no attempts left.
var ErrBudgetSpent = errors.New("retry budget already spent")

// Policy is the backoff configuration applied to one remote step.
type Policy struct {
	InitialInterval        time.Duration `mapstructure:"initial_interval"`
	MaximumInterval        time.Duration `mapstructure:"maximum_interval"`
	BackoffCoefficient     float64       `mapstructure:"backoff_coefficient"`
	MaximumAttempts        int           `mapstructure:"maximum_attempts"`
	NonRetryableErrorKinds []string      `mapstructure:"non_retryable_error_kinds"`
}

// DefaultPolicy is 3 attempts, 1s doubling up to 100s, account and funds errors terminal.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:        time.Second,
		MaximumInterval:        100 * time.Second,
		BackoffCoefficient:     2,
		MaximumAttempts:        3,
		NonRetryableErrorKinds: []string{KindInvalidAccount, KindInsufficientFunds},
	}
}

func (p Policy) withDefaults() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = 2
	}
	if p.MaximumAttempts <= 0 {
		p.MaximumAttempts = 1
	}
	return p
}

// Validate rejects policies that cannot be executed as configured.
func (p Policy) Validate() error {
	switch {
	case p.InitialInterval <= 0:
		return errors.New("initial interval must be positive")
	case p.MaximumInterval > 0 && p.MaximumInterval < p.InitialInterval:
		return errors.New("maximum interval must not be below the initial interval")
	case p.BackoffCoefficient < 1:
		return errors.New("backoff coefficient must be at least 1")
	case p.MaximumAttempts < 1:
		return errors.New("maximum attempts must be at least 1")
	}
	return nil
}

// Interval is the wait after the given failed attempt, before attempt+1.
func (p Policy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	b := p.withDefaults().backOff()
	b.Reset()
	var wait time.Duration
	for i := 0; i < attempt; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

// backOff is the deterministic exponential schedule described by the policy.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	maxInterval := p.MaximumInterval
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffCoefficient,
		MaxInterval:         maxInterval,
	}
}

// IsNonRetryable reports whether kind aborts the retry loop.
func (p Policy) IsNonRetryable(kind string) bool {
	if kind == "" {
		return false
	}
	for _, k := range p.NonRetryableErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first error in the chain that declares one.
func KindOf(err error) string {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}

// ExhaustedError is returned when every attempt of a step failed.
type ExhaustedError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Cause keeps pkg/errors.Cause walking past the exhaustion wrapper.
func (e *ExhaustedError) Cause() error {
	return e.Err
}

// SleepFunc waits for d or until ctx is done. It replaces the backoff timer,
// mostly so tests can observe the schedule without waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

// errResume is returned by the first invocation of a resumed step so the
// interval owed from before the restart is waited before the next attempt.
var errResume = errors.New("resuming step after restart")

// scheduledBackOff starts the policy schedule at the resumed attempt and hands
// each wait to a SleepFunc when one is configured.
type scheduledBackOff struct {
	*backoff.ExponentialBackOff
	skip  int
	ctx   context.Context
	sleep SleepFunc
	err   error
}

func (b *scheduledBackOff) Reset() {
	b.ExponentialBackOff.Reset()
	for i := 0; i < b.skip; i++ {
		b.ExponentialBackOff.NextBackOff()
	}
}

func (b *scheduledBackOff) NextBackOff() time.Duration {
	wait := b.ExponentialBackOff.NextBackOff()
	if b.sleep == nil || wait == backoff.Stop {
		return wait
	}
	if err := b.sleep(b.ctx, wait); err != nil {
		b.err = err
		return backoff.Stop
	}
	return 0
}

// Executor runs remote calls under a Policy.
type Executor struct {
	sleep  SleepFunc
	logger *slog.Logger
}

type ExecutorOption func(*Executor)

func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) {
		e.sleep = fn
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type options struct {
	startAttempt int
	hook         func(ctx context.Context, attempt int) error
}

type Option func(*options)

// WithStartAttempt resumes a step that already consumed n attempts.
func WithStartAttempt(n int) Option {
	return func(o *options) {
		o.startAttempt = n
	}
}

// WithAttemptHook runs before every attempt with its 1-based number. A hook
// error aborts the step without invoking the call.
func WithAttemptHook(fn func(ctx context.Context, attempt int) error) Option {
	return func(o *options) {
		o.hook = fn
	}
}

// Execute invokes call until it succeeds, fails with a non-retryable kind,
// or the attempt ceiling is reached.
func (e *Executor) Execute(ctx context.Context, step string, policy Policy, call func(ctx context.Context) error, opts ...Option) error {
	policy = policy.withDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	attempt := o.startAttempt
	if attempt >= policy.MaximumAttempts {
		return &ExhaustedError{Step: step, Attempts: attempt, Err: ErrBudgetSpent}
	}

	tries := policy.MaximumAttempts - attempt
	skip := 0
	resuming := attempt > 0
	if resuming {
		tries++
		skip = attempt - 1
	}

	var aborted, last error
	operation := func() (struct{}, error) {
		if resuming {
			resuming = false
			return struct{}{}, errResume
		}
		attempt++

		if o.hook != nil {
			if err := o.hook(ctx, attempt); err != nil {
				aborted = err
				return struct{}{}, backoff.Permanent(err)
			}
		}

		err := call(ctx)
		e.record(ctx, step, err)
		if err == nil {
			return struct{}{}, nil
		}
		last = err

		kind := KindOf(err)
		if policy.IsNonRetryable(kind) {
			e.logger.WarnContext(ctx, "non-retryable step failure",
				"step", step, "attempt", attempt, "kind", kind, "error", err)
			aborted = err
			return struct{}{}, backoff.Permanent(err)
		}

		if attempt < policy.MaximumAttempts {
			e.logger.InfoContext(ctx, "retrying step",
				"step", step, "attempt", attempt, "kind", kind, "next_wait", policy.Interval(attempt), "error", err)
		}
		return struct{}{}, err
	}

	schedule := &scheduledBackOff{ExponentialBackOff: policy.backOff(), skip: skip, ctx: ctx, sleep: e.sleep}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	)

	switch {
	case err == nil:
		return nil
	case aborted != nil:
		return aborted
	case attempt >= policy.MaximumAttempts:
		return &ExhaustedError{Step: step, Attempts: attempt, Err: last}
	case schedule.err != nil:
		return errors.Wrapf(schedule.err, "step %s interrupted while backing off", step)
	case ctx.Err() != nil:
		return errors.Wrapf(ctx.Err(), "step %s interrupted while backing off", step)
	default:
		return errors.Wrapf(err, "step %s interrupted while backing off", step)
	}
}

func (e *Executor) record(ctx context.Context, step string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	telemetry.RecordCounter(ctx, "orchestrator_step_attempts_total", "Remote step attempts", 1,
		attribute.String("step", step),
		attribute.String("status", status),
	)
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, e *Executor, step string, policy Policy, call func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := e.Execute(ctx, step, policy, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	return result, err
}
