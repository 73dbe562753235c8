package domain

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// Step is the durable position of a workflow instance
type Step string

const (
	StepCreated            Step = "created"
	StepGracePeriod        Step = "grace_period"
	StepAwaitingValidation Step = "awaiting_validation"
	StepCheckingStock      Step = "checking_stock"
	StepConfirmingStock    Step = "confirming_stock"
	StepRejectingStock     Step = "rejecting_stock"
	StepInitiatingPayment  Step = "initiating_payment"
	StepAwaitingPayment    Step = "awaiting_payment"
	StepMarkingPaid        Step = "marking_paid"
	StepCancelling         Step = "cancelling"
	StepPaid               Step = "paid"
	StepCancelled          Step = "cancelled"
	StepFailed             Step = "failed"
)

// TerminalSteps are the steps an instance never leaves
var TerminalSteps = []Step{StepPaid, StepCancelled, StepFailed}

func (s Step) IsTerminal() bool {
	return s == StepPaid || s == StepCancelled || s == StepFailed
}

func (s Step) String() string {
	return string(s)
}

// PaymentStatus is written at most once per instance
type PaymentStatus string

const (
	PaymentStatusUnknown   PaymentStatus = "unknown"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Outcome explains why an instance terminated
type Outcome string

const (
	OutcomePaid               Outcome = "paid"
	OutcomeStockRejected      Outcome = "stock_rejected"
	OutcomePaymentFailed      Outcome = "payment_failed"
	OutcomePaymentTimeout     Outcome = "payment_timeout"
	OutcomeOperatorCancelled  Outcome = "operator_cancelled"
	OutcomeStepFailed         Outcome = "step_failed"
	OutcomeCreationFailed     Outcome = "creation_failed"
	OutcomeCancellationFailed Outcome = "cancellation_failed"
)

// IsBusinessCancellation separates cancellations the business decided on
// from cancellations driven by failures.
func (o Outcome) IsBusinessCancellation() bool {
	return o == OutcomeStockRejected || o == OutcomePaymentFailed || o == OutcomeOperatorCancelled
}

// SignalKind is the type of an out-of-band signal
type SignalKind string

const (
	SignalPaymentSucceeded SignalKind = "payment_succeeded"
	SignalPaymentFailed    SignalKind = "payment_failed"
	SignalCancel           SignalKind = "cancel"
)

// PaymentSignalKind maps a callback flag to its signal kind
func PaymentSignalKind(succeeded bool) SignalKind {
	if succeeded {
		return SignalPaymentSucceeded
	}
	return SignalPaymentFailed
}

// PaymentStatus is the status a payment signal writes
func (k SignalKind) PaymentStatus() PaymentStatus {
	switch k {
	case SignalPaymentSucceeded:
		return PaymentStatusSucceeded
	case SignalPaymentFailed:
		return PaymentStatusFailed
	default:
		return PaymentStatusUnknown
	}
}

func (k SignalKind) IsPayment() bool {
	return k == SignalPaymentSucceeded || k == SignalPaymentFailed
}

// Signal is a durable inbox entry for one instance. The dedup key makes a
// redelivered signal of the same kind collapse into the stored one.
type Signal struct {
	ID            models.ID  `json:"id"`
	CorrelationID models.ID  `json:"correlation_id"`
	Kind          SignalKind `json:"kind"`
	DedupKey      string     `json:"dedup_key"`
	ReceivedAt    time.Time  `json:"received_at"`
}

func NewSignal(correlationID models.ID, kind SignalKind, now time.Time) *Signal {
	return &Signal{
		ID:            models.GenerateUUID(),
		CorrelationID: correlationID,
		Kind:          kind,
		DedupKey:      correlationID.String() + ":" + string(kind),
		ReceivedAt:    now,
	}
}

// WorkflowInstance is the persisted state of one order saga. It is mutated
// only by the orchestration engine.
type WorkflowInstance struct {
	ID              models.ID
	CorrelationID   models.ID
	Request         OrderRequest
	CreateRequestID models.ID
	OrderID         int
	Step            Step
	PaymentStatus   PaymentStatus
	Attempts        map[Step]int
	WakeAt          *time.Time
	Outcome         Outcome
	FailureReason   string
	StockItems      []StockItemResult
	Timestamps      models.Timestamps
	Version         models.Version
	HistoryVersion  int

	events   []*events.Event
	consumed []models.ID
}

// NewWorkflowInstance validates the request and creates an instance in the created step
func NewWorkflowInstance(req OrderRequest, now time.Time) (*WorkflowInstance, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	w := &WorkflowInstance{
		ID:              models.GenerateUUID(),
		CorrelationID:   req.CorrelationID,
		Request:         req,
		CreateRequestID: models.GenerateUUID(),
		Step:            StepCreated,
		PaymentStatus:   PaymentStatusUnknown,
		Attempts:        map[Step]int{},
		Timestamps:      models.NewTimestamps(now),
		Version:         models.NewVersion(),
	}

	w.record(events.OrderWorkflowStartedTopic, "", now, nil)
	return w, nil
}

// Due reports whether the engine has work to do for the instance at now.
// An instance awaiting payment without a deadline is parked until a signal arrives.
func (w *WorkflowInstance) Due(now time.Time) bool {
	if w.Step.IsTerminal() {
		return false
	}
	if w.WakeAt == nil {
		return w.Step != StepAwaitingPayment
	}
	return !now.Before(*w.WakeAt)
}

// Attempt returns the attempts already spent on the current step
func (w *WorkflowInstance) Attempt() int {
	return w.Attempts[w.Step]
}

// AttemptStarted stores the attempt counter of the current step
func (w *WorkflowInstance) AttemptStarted(attempt int, now time.Time) {
	if w.Attempts == nil {
		w.Attempts = map[Step]int{}
	}
	w.Attempts[w.Step] = attempt
	w.Timestamps = w.Timestamps.Update(now)
}

// OrderCreated stores the order id and starts the grace period
func (w *WorkflowInstance) OrderCreated(orderID int, graceUntil time.Time, now time.Time) error {
	if err := w.expect(StepCreated); err != nil {
		return err
	}

	w.OrderID = orderID
	w.WakeAt = &graceUntil
	w.moveTo(StepGracePeriod, events.OrderCreatedTopic, now, nil)
	return nil
}

// GracePeriodElapsed leaves the grace period once its deadline passed
func (w *WorkflowInstance) GracePeriodElapsed(now time.Time) error {
	if err := w.expect(StepGracePeriod); err != nil {
		return err
	}
	if w.WakeAt != nil && now.Before(*w.WakeAt) {
		return errors.Wrapf(ErrInvalidTransition, "grace period runs until %s", w.WakeAt.Format(time.RFC3339))
	}

	w.WakeAt = nil
	w.moveTo(StepAwaitingValidation, events.OrderGracePeriodElapsedTopic, now, nil)
	return nil
}

// MarkedAwaitingValidation records that the ordering service holds the order for validation
func (w *WorkflowInstance) MarkedAwaitingValidation(now time.Time) error {
	if err := w.expect(StepAwaitingValidation); err != nil {
		return err
	}

	w.moveTo(StepCheckingStock, events.OrderAwaitingValidationTopic, now, nil)
	return nil
}

// StockChecked branches on the catalog verdict
func (w *WorkflowInstance) StockChecked(result *StockCheckResult, now time.Time) error {
	if err := w.expect(StepCheckingStock); err != nil {
		return err
	}

	w.StockItems = append([]StockItemResult(nil), result.Items...)

	next := StepRejectingStock
	if result.Confirmed() {
		next = StepConfirmingStock
	}

	w.moveTo(next, events.OrderStockCheckedTopic, now, func(d *WorkflowEventData) {
		d.StockItems = w.StockItems
	})
	return nil
}

// StockConfirmed records the confirmation at the ordering service
func (w *WorkflowInstance) StockConfirmed(now time.Time) error {
	if err := w.expect(StepConfirmingStock); err != nil {
		return err
	}

	w.moveTo(StepInitiatingPayment, events.OrderStockConfirmedTopic, now, nil)
	return nil
}

// StockRejected terminates the instance without attempting payment
func (w *WorkflowInstance) StockRejected(now time.Time) error {
	if err := w.expect(StepRejectingStock); err != nil {
		return err
	}

	w.Outcome = OutcomeStockRejected
	w.moveTo(StepCancelled, events.OrderStockRejectedTopic, now, func(d *WorkflowEventData) {
		d.StockItems = w.RejectedItems()
	})
	return nil
}

// RejectedItems lists the lines the catalog could not serve
func (w *WorkflowInstance) RejectedItems() []StockItemResult {
	var rejected []StockItemResult
	for _, item := range w.StockItems {
		if !item.HasStock {
			rejected = append(rejected, item)
		}
	}
	return rejected
}

// PaymentInitiated parks the instance until a payment signal arrives or the
// optional deadline passes. A signal that arrived early resolves it at once.
func (w *WorkflowInstance) PaymentInitiated(deadline *time.Time, now time.Time) error {
	if err := w.expect(StepInitiatingPayment); err != nil {
		return err
	}

	w.WakeAt = deadline
	w.moveTo(StepAwaitingPayment, events.OrderPaymentInitiatedTopic, now, nil)
	w.resolvePayment(now)
	return nil
}

// PaymentTimedOut cancels an instance whose payment deadline passed
func (w *WorkflowInstance) PaymentTimedOut(now time.Time) error {
	if err := w.expect(StepAwaitingPayment); err != nil {
		return err
	}
	if w.WakeAt == nil || now.Before(*w.WakeAt) {
		return errors.Wrap(ErrInvalidTransition, "payment deadline has not passed")
	}

	w.WakeAt = nil
	w.Outcome = OutcomePaymentTimeout
	w.moveTo(StepCancelling, events.OrderPaymentSignalledTopic, now, nil)
	return nil
}

// ApplySignal consumes an inbox signal at a step boundary and reports
// whether it changed the instance. Payment status is write-once and cancel
// requests are ignored once payment succeeded.
func (w *WorkflowInstance) ApplySignal(sig *Signal, now time.Time) bool {
	w.consumed = append(w.consumed, sig.ID)

	if w.Step.IsTerminal() {
		return false
	}

	switch {
	case sig.Kind.IsPayment():
		if w.PaymentStatus != PaymentStatusUnknown || !w.AcceptsPayment() {
			return false
		}
		w.PaymentStatus = sig.Kind.PaymentStatus()
		w.Timestamps = w.Timestamps.Update(now)
		w.record(events.OrderPaymentSignalledTopic, "", now, func(d *WorkflowEventData) {
			d.Signal = sig.Kind
		})
		w.resolvePayment(now)
		return true

	case sig.Kind == SignalCancel:
		if w.PaymentStatus == PaymentStatusSucceeded || w.Step == StepMarkingPaid ||
			w.Step == StepCancelling || w.Step == StepRejectingStock {
			return false
		}

		w.Outcome = OutcomeOperatorCancelled
		w.WakeAt = nil
		next := StepCancelling
		if w.OrderID == 0 {
			next = StepCancelled
		}
		w.moveTo(next, events.OrderCancellationRequestedTopic, now, func(d *WorkflowEventData) {
			d.Signal = sig.Kind
		})
		return true
	}

	return false
}

// AcceptsPayment reports whether a payment result can still be recorded. An
// instance on its way to cancellation never waits for payment again.
func (w *WorkflowInstance) AcceptsPayment() bool {
	if w.Step.IsTerminal() || w.Outcome != "" {
		return false
	}
	return w.Step != StepCancelling && w.Step != StepRejectingStock
}

func (w *WorkflowInstance) resolvePayment(now time.Time) {
	if w.Step != StepAwaitingPayment {
		return
	}

	switch w.PaymentStatus {
	case PaymentStatusSucceeded:
		w.WakeAt = nil
		w.moveTo(StepMarkingPaid, events.OrderPaymentSignalledTopic, now, nil)
	case PaymentStatusFailed:
		w.WakeAt = nil
		w.Outcome = OutcomePaymentFailed
		w.moveTo(StepCancelling, events.OrderPaymentSignalledTopic, now, nil)
	}
}

// MarkedPaid terminates the instance successfully
func (w *WorkflowInstance) MarkedPaid(now time.Time) error {
	if err := w.expect(StepMarkingPaid); err != nil {
		return err
	}

	w.Outcome = OutcomePaid
	w.moveTo(StepPaid, events.OrderPaidTopic, now, nil)
	return nil
}

// Cancelled terminates the instance after the ordering service cancelled the order
func (w *WorkflowInstance) Cancelled(now time.Time) error {
	if err := w.expect(StepCancelling); err != nil {
		return err
	}

	w.moveTo(StepCancelled, events.OrderCancelledTopic, now, nil)
	return nil
}

// StepFailed handles a step whose remote call gave up. Without an order
// there is nothing to compensate; a failed cancellation cannot be
// compensated either. Every other failure drives the order to cancellation.
func (w *WorkflowInstance) StepFailed(cause error, now time.Time) {
	w.FailureReason = cause.Error()
	w.WakeAt = nil

	switch w.Step {
	case StepCreated:
		w.Outcome = OutcomeCreationFailed
		w.moveTo(StepFailed, events.OrderWorkflowFailedTopic, now, nil)
	case StepCancelling:
		w.Outcome = OutcomeCancellationFailed
		w.moveTo(StepFailed, events.OrderWorkflowFailedTopic, now, nil)
	default:
		w.Outcome = OutcomeStepFailed
		w.moveTo(StepCancelling, events.OrderWorkflowFailedTopic, now, nil)
	}
}

// Events returns the events recorded since the last ClearEvents
func (w *WorkflowInstance) Events() []*events.Event {
	return w.events
}

// ClearEvents drops recorded events and consumed signals after a save
func (w *WorkflowInstance) ClearEvents() {
	w.events = nil
	w.consumed = nil
}

// ConsumedSignals lists the signal ids applied since the last save
func (w *WorkflowInstance) ConsumedSignals() []models.ID {
	return w.consumed
}

func (w *WorkflowInstance) expect(step Step) error {
	if w.Step != step {
		return errors.Wrapf(ErrInvalidTransition, "instance %s is in step %s, expected %s", w.CorrelationID, w.Step, step)
	}
	return nil
}

func (w *WorkflowInstance) moveTo(step Step, topic events.Topic, now time.Time, mutate func(*WorkflowEventData)) {
	previous := w.Step
	w.Step = step
	w.Timestamps = w.Timestamps.Update(now)
	w.record(topic, previous, now, mutate)
}

func (w *WorkflowInstance) record(topic events.Topic, previous Step, now time.Time, mutate func(*WorkflowEventData)) {
	data := WorkflowEventData{
		CorrelationID: w.CorrelationID,
		OrderID:       w.OrderID,
		Step:          w.Step,
		PreviousStep:  previous,
		PaymentStatus: w.PaymentStatus,
		Outcome:       w.Outcome,
		Reason:        w.FailureReason,
	}
	if mutate != nil {
		mutate(&data)
	}

	event := events.NewEvent(w.ID, topic, data).
		WithCorrelationID(w.CorrelationID).
		WithTimestamp(now).
		WithMetadata("step", string(w.Step))

	w.events = append(w.events, event)
}

// WorkflowEventData is the payload of every workflow lifecycle event
type WorkflowEventData struct {
	CorrelationID models.ID         `json:"correlation_id"`
	OrderID       int               `json:"order_id,omitempty"`
	Step          Step              `json:"step"`
	PreviousStep  Step              `json:"previous_step,omitempty"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	Outcome       Outcome           `json:"outcome,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Signal        SignalKind        `json:"signal,omitempty"`
	StockItems    []StockItemResult `json:"stock_items,omitempty"`
}

// WorkflowRepository persists instances, their history and their signal inbox
type WorkflowRepository interface {
	// Create stores a new instance, ErrInstanceExists if the correlation id is taken
	Create(ctx context.Context, instance *WorkflowInstance) error
	// Save persists the snapshot, appends recorded events and consumes applied
	// signals atomically. ErrConcurrentModification on a stale version.
	Save(ctx context.Context, instance *WorkflowInstance) error
	// FindByCorrelationID returns nil, nil when the id is unknown
	FindByCorrelationID(ctx context.Context, correlationID models.ID) (*WorkflowInstance, error)
	// FindRunnable lists instances with a due timer, pending signals or work left
	FindRunnable(ctx context.Context, now time.Time, limit int) ([]models.ID, error)
	// EnqueueSignal returns false when a signal with the same dedup key exists
	EnqueueSignal(ctx context.Context, signal *Signal) (bool, error)
	PendingSignals(ctx context.Context, correlationID models.ID) ([]*Signal, error)
	History(ctx context.Context, instanceID models.ID) ([]*events.Event, error)
}
