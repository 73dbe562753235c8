package application

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/orchestrator-service/infrastructure"
	"github.com/draftea/order-orchestrator/orchestrator-service/mocks"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []events.Topic
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range evts {
		p.topics = append(p.topics, e.Topic)
	}
	return p.err
}

func (p *recordingPublisher) Topics() []events.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Topic(nil), p.topics...)
}

type recordingScheduler struct {
	mu    sync.Mutex
	woken []models.ID
	at    map[models.ID]time.Time
}

func (s *recordingScheduler) Wake(id models.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.woken = append(s.woken, id)
}

func (s *recordingScheduler) WakeAt(id models.ID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.at == nil {
		s.at = map[models.ID]time.Time{}
	}
	s.at[id] = at
}

type harness struct {
	clock     *testClock
	repo      *infrastructure.MemoryWorkflowRepository
	orders    *mocks.MockOrderRecordClient
	catalog   *mocks.MockCatalogClient
	payments  *mocks.MockPaymentClient
	publisher *recordingPublisher
	scheduler *recordingScheduler
	engine    *Engine
	confirm   *ConfirmPayment
	cancel    *CancelOrder
	config    EngineConfig

	mu    sync.Mutex
	waits []time.Duration
}

func newHarness(t *testing.T, configure ...func(*EngineConfig)) *harness {
	t.Helper()

	h := &harness{
		clock:     &testClock{now: baseTime},
		orders:    mocks.NewMockOrderRecordClient(t),
		catalog:   mocks.NewMockCatalogClient(t),
		payments:  mocks.NewMockPaymentClient(t),
		publisher: &recordingPublisher{},
		scheduler: &recordingScheduler{},
		config:    DefaultEngineConfig(),
	}
	for _, fn := range configure {
		fn(&h.config)
	}

	h.repo = infrastructure.NewMemoryWorkflowRepository(h.clock.Now)
	h.engine = h.newEngine()
	h.engine.SetScheduler(h.scheduler)

	guard := idempotency.NewGuard(idempotency.NewMemoryStore(h.clock.Now),
		idempotency.WithNamespace("confirm_payment"),
		idempotency.WithClock(h.clock.Now))
	h.confirm = NewConfirmPayment(h.repo, h.scheduler, guard, h.clock.Now, nil)
	h.cancel = NewCancelOrder(h.repo, h.scheduler, h.clock.Now, nil)

	return h
}

// newEngine builds an engine over the same repository, as a restarted process would.
func (h *harness) newEngine() *Engine {
	executor := retry.NewExecutor(retry.WithSleep(func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.waits = append(h.waits, d)
		return nil
	}))

	return NewEngine(h.repo, h.orders, h.catalog, h.payments, h.publisher, h.config,
		WithEngineClock(h.clock.Now),
		WithExecutor(executor))
}

func (h *harness) recordedWaits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.waits...)
}

func (h *harness) start(t *testing.T) *domain.WorkflowInstance {
	t.Helper()
	instance, started, err := h.engine.Start(context.Background(), orderRequest())
	require.NoError(t, err)
	require.True(t, started)
	return instance
}

func (h *harness) advance(t *testing.T, id models.ID) *domain.WorkflowInstance {
	t.Helper()
	require.NoError(t, h.engine.Advance(context.Background(), id))
	return h.load(t, id)
}

func (h *harness) load(t *testing.T, id models.ID) *domain.WorkflowInstance {
	t.Helper()
	instance, err := h.repo.FindByCorrelationID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, instance)
	return instance
}

func (h *harness) payment(t *testing.T, id models.ID, orderID int, succeeded bool) PaymentOutcome {
	t.Helper()
	resp, err := h.confirm.Execute(context.Background(), &ConfirmPaymentCommand{
		RequestID:     models.GenerateUUID().String(),
		OrderID:       orderID,
		CorrelationID: id.String(),
		Succeeded:     succeeded,
	})
	require.NoError(t, err)
	return resp.Outcome
}

func orderRequest() domain.OrderRequest {
	return domain.OrderRequest{
		CorrelationID: models.GenerateUUID(),
		UserID:        "user-1",
		UserName:      "alice",
		City:          "Buenos Aires",
		Items: []domain.BasketItem{
			{ProductID: 1, ProductName: "Mug", UnitPrice: decimal.RequireFromString("9.99"), Quantity: 2},
			{ProductID: 2, ProductName: "Cap", UnitPrice: decimal.RequireFromString("15.50"), Quantity: 1},
		},
	}
}

var basketStock = []domain.StockItem{{ProductID: 1, Units: 2}, {ProductID: 2, Units: 1}}

func confirmedStock(orderID int) *domain.StockCheckResult {
	return &domain.StockCheckResult{OrderID: orderID, StockConfirmed: true, Items: []domain.StockItemResult{
		{ProductID: 1, HasStock: true},
		{ProductID: 2, HasStock: true},
	}}
}

// toAwaitingPayment runs a started instance through creation, grace period
// and stock confirmation.
func (h *harness) toAwaitingPayment(t *testing.T, id models.ID, orderID int) {
	t.Helper()

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(orderID, nil).Once()
	h.orders.EXPECT().SetAwaitingValidation(mock.Anything, orderID).Return(nil).Once()
	h.catalog.EXPECT().CheckStock(mock.Anything, orderID, basketStock).Return(confirmedStock(orderID), nil).Once()
	h.orders.EXPECT().ConfirmStock(mock.Anything, orderID).Return(nil).Once()
	h.payments.EXPECT().InitiatePayment(mock.Anything, orderID, id).Return(nil).Once()

	instance := h.advance(t, id)
	require.Equal(t, domain.StepGracePeriod, instance.Step)

	h.clock.Advance(h.config.GracePeriod)
	instance = h.advance(t, id)
	require.Equal(t, domain.StepAwaitingPayment, instance.Step)
}

func TestEngine_PaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	instance := h.start(t)
	id := instance.CorrelationID

	h.toAwaitingPayment(t, id, 42)
	assert.Equal(t, domain.PaymentStatusUnknown, h.load(t, id).PaymentStatus)

	h.orders.EXPECT().SetPaid(mock.Anything, 42).Return(nil).Once()

	h.clock.Advance(72 * time.Hour)
	assert.Equal(t, PaymentOutcomeAccepted, h.payment(t, id, 42, true))
	assert.Contains(t, h.scheduler.woken, id)

	instance = h.advance(t, id)
	assert.Equal(t, domain.StepPaid, instance.Step)
	assert.Equal(t, domain.OutcomePaid, instance.Outcome)
	assert.Equal(t, domain.PaymentStatusSucceeded, instance.PaymentStatus)

	assert.Equal(t, []events.Topic{
		events.OrderWorkflowStartedTopic,
		events.OrderCreatedTopic,
		events.OrderGracePeriodElapsedTopic,
		events.OrderAwaitingValidationTopic,
		events.OrderStockCheckedTopic,
		events.OrderStockConfirmedTopic,
		events.OrderPaymentInitiatedTopic,
		events.OrderPaymentSignalledTopic,
		events.OrderPaymentSignalledTopic,
		events.OrderPaidTopic,
	}, h.publisher.Topics())

	history, err := h.repo.History(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestEngine_LateCallbackAfterPaid(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID
	h.toAwaitingPayment(t, id, 42)

	h.orders.EXPECT().SetPaid(mock.Anything, 42).Return(nil).Once()
	h.payment(t, id, 42, true)
	paid := h.advance(t, id)
	require.Equal(t, domain.StepPaid, paid.Step)

	assert.Equal(t, PaymentOutcomeDuplicate, h.payment(t, id, 42, true))
	assert.Equal(t, PaymentOutcomeRejected, h.payment(t, id, 42, false))

	after := h.advance(t, id)
	assert.Equal(t, domain.StepPaid, after.Step)
	assert.Equal(t, domain.PaymentStatusSucceeded, after.PaymentStatus)
	assert.Equal(t, paid.Version, after.Version)
}

func TestEngine_PaymentFailed(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID
	h.toAwaitingPayment(t, id, 42)

	h.orders.EXPECT().Cancel(mock.Anything, 42).Return(nil).Once()

	assert.Equal(t, PaymentOutcomeAccepted, h.payment(t, id, 42, false))
	assert.Equal(t, PaymentOutcomeDuplicate, h.payment(t, id, 42, false))
	assert.Equal(t, PaymentOutcomeRejected, h.payment(t, id, 42, true))

	instance := h.advance(t, id)
	assert.Equal(t, domain.StepCancelled, instance.Step)
	assert.Equal(t, domain.OutcomePaymentFailed, instance.Outcome)
	assert.True(t, instance.Outcome.IsBusinessCancellation())
}

func TestEngine_EarlyPaymentSignal(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(42, nil).Once()
	instance := h.advance(t, id)
	require.Equal(t, domain.StepGracePeriod, instance.Step)

	assert.Equal(t, PaymentOutcomeAccepted, h.payment(t, id, 42, true))

	h.orders.EXPECT().SetAwaitingValidation(mock.Anything, 42).Return(nil).Once()
	h.catalog.EXPECT().CheckStock(mock.Anything, 42, basketStock).Return(confirmedStock(42), nil).Once()
	h.orders.EXPECT().ConfirmStock(mock.Anything, 42).Return(nil).Once()
	h.payments.EXPECT().InitiatePayment(mock.Anything, 42, id).Return(nil).Once()
	h.orders.EXPECT().SetPaid(mock.Anything, 42).Return(nil).Once()

	h.clock.Advance(h.config.GracePeriod)
	instance = h.advance(t, id)
	assert.Equal(t, domain.StepPaid, instance.Step)
}

func TestEngine_StockRejected(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	rejected := []domain.StockItemResult{{ProductID: 2, HasStock: false}}

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(7, nil).Once()
	h.orders.EXPECT().SetAwaitingValidation(mock.Anything, 7).Return(nil).Once()
	h.catalog.EXPECT().CheckStock(mock.Anything, 7, basketStock).Return(&domain.StockCheckResult{
		OrderID: 7,
		Items:   []domain.StockItemResult{{ProductID: 1, HasStock: true}, {ProductID: 2, HasStock: false}},
	}, nil).Once()
	h.orders.EXPECT().RejectStock(mock.Anything, 7, rejected).Return(nil).Once()

	h.advance(t, id)
	h.clock.Advance(h.config.GracePeriod)
	instance := h.advance(t, id)

	assert.Equal(t, domain.StepCancelled, instance.Step)
	assert.Equal(t, domain.OutcomeStockRejected, instance.Outcome)
	assert.True(t, instance.Outcome.IsBusinessCancellation())
	h.payments.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything, mock.Anything)

	_, err := h.confirm.Execute(context.Background(), &ConfirmPaymentCommand{CorrelationID: id.String(), Succeeded: true})
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestEngine_NonRetryableFailureAttemptedOnce(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(7, nil).Once()
	h.orders.EXPECT().SetAwaitingValidation(mock.Anything, 7).Return(nil).Once()
	h.catalog.EXPECT().CheckStock(mock.Anything, 7, basketStock).
		Return(nil, domain.NewRemoteError("catalog.check_stock", http.StatusUnprocessableEntity, retry.KindInvalidAccount, "account closed", nil)).
		Once()
	h.orders.EXPECT().Cancel(mock.Anything, 7).Return(nil).Once()

	h.advance(t, id)
	h.clock.Advance(h.config.GracePeriod)
	instance := h.advance(t, id)

	h.catalog.AssertNumberOfCalls(t, "CheckStock", 1)
	assert.Empty(t, h.recordedWaits())
	assert.Equal(t, domain.StepCancelled, instance.Step)
	assert.Equal(t, domain.OutcomeStepFailed, instance.Outcome)
	assert.False(t, instance.Outcome.IsBusinessCancellation())
	assert.Contains(t, instance.FailureReason, "account closed")
	assert.Equal(t, 1, instance.Attempts[domain.StepCheckingStock])
}

func TestEngine_RetryableFailureExhaustsAttempts(t *testing.T) {
	h := newHarness(t, func(c *EngineConfig) {
		c.RetryPolicy.MaximumAttempts = 4
		c.RetryPolicy.MaximumInterval = 3 * time.Second
	})
	id := h.start(t).CorrelationID

	transient := domain.NewRemoteError("ordering.set_awaiting_validation", http.StatusServiceUnavailable, "", "", nil)

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(7, nil).Once()
	h.orders.EXPECT().SetAwaitingValidation(mock.Anything, 7).Return(transient).Times(4)
	h.orders.EXPECT().Cancel(mock.Anything, 7).Return(nil).Once()

	h.advance(t, id)
	h.clock.Advance(h.config.GracePeriod)
	instance := h.advance(t, id)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, h.recordedWaits())
	assert.Equal(t, domain.StepCancelled, instance.Step)
	assert.Equal(t, domain.OutcomeStepFailed, instance.Outcome)
	assert.Equal(t, 4, instance.Attempts[domain.StepAwaitingValidation])
	h.catalog.AssertNotCalled(t, "CheckStock", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_CreationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).
		Return(0, domain.NewRemoteError("ordering.create_order", 0, "", "", errors.New("connection refused"))).
		Times(3)

	instance := h.advance(t, id)
	assert.Equal(t, domain.StepFailed, instance.Step)
	assert.Equal(t, domain.OutcomeCreationFailed, instance.Outcome)
	assert.Zero(t, instance.OrderID)
	h.orders.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestEngine_CreateRequestIDIsStableAcrossRetries(t *testing.T) {
	h := newHarness(t)
	instance := h.start(t)

	var seen []models.ID
	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).
		RunAndReturn(func(_ context.Context, requestID models.ID, _ domain.OrderRequest) (int, error) {
			seen = append(seen, requestID)
			if len(seen) < 2 {
				return 0, domain.NewRemoteError("ordering.create_order", http.StatusBadGateway, "", "", nil)
			}
			return 42, nil
		}).Times(2)

	h.advance(t, instance.CorrelationID)
	require.Len(t, seen, 2)
	assert.Equal(t, instance.CreateRequestID, seen[0])
	assert.Equal(t, seen[0], seen[1])
}

func TestEngine_ResumesAfterRestart(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(42, nil).Once()
	instance := h.advance(t, id)
	require.Equal(t, domain.StepGracePeriod, instance.Step)
	wakeAt := *instance.WakeAt
	assert.Equal(t, wakeAt, h.scheduler.at[id])

	h.clock.Advance(3 * time.Second)
	restarted := h.newEngine()

	require.NoError(t, restarted.Advance(context.Background(), id))
	instance = h.load(t, id)
	assert.Equal(t, domain.StepGracePeriod, instance.Step)
	assert.Equal(t, wakeAt, *instance.WakeAt)

	ids, err := h.repo.FindRunnable(context.Background(), h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	h.clock.Advance(2 * time.Second)
	ids, err = h.repo.FindRunnable(context.Background(), h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ID{id}, ids)
}

func TestEngine_ResumesAttemptCounter(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).CorrelationID

	instance := h.load(t, id)
	instance.AttemptStarted(2, h.clock.Now())
	require.NoError(t, h.repo.Save(context.Background(), instance))

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).
		Return(0, domain.NewRemoteError("ordering.create_order", http.StatusInternalServerError, "", "", nil)).
		Once()

	instance = h.advance(t, id)
	assert.Equal(t, domain.StepFailed, instance.Step)
	assert.Equal(t, 3, instance.Attempts[domain.StepCreated])
	assert.Equal(t, []time.Duration{2 * time.Second}, h.recordedWaits())
}

func TestEngine_PaymentTimeout(t *testing.T) {
	h := newHarness(t, func(c *EngineConfig) {
		c.PaymentTimeout = time.Hour
	})
	id := h.start(t).CorrelationID
	h.toAwaitingPayment(t, id, 42)

	instance := h.advance(t, id)
	require.Equal(t, domain.StepAwaitingPayment, instance.Step)
	require.NotNil(t, instance.WakeAt)

	h.orders.EXPECT().Cancel(mock.Anything, 42).Return(nil).Once()

	h.clock.Advance(time.Hour)
	instance = h.advance(t, id)
	assert.Equal(t, domain.StepCancelled, instance.Step)
	assert.Equal(t, domain.OutcomePaymentTimeout, instance.Outcome)
	assert.False(t, instance.Outcome.IsBusinessCancellation())
}

func TestEngine_OperatorCancellation(t *testing.T) {
	t.Run("while awaiting payment", func(t *testing.T) {
		h := newHarness(t)
		id := h.start(t).CorrelationID
		h.toAwaitingPayment(t, id, 42)

		h.orders.EXPECT().Cancel(mock.Anything, 42).Return(nil).Once()

		resp, err := h.cancel.Execute(context.Background(), id.String())
		require.NoError(t, err)
		assert.True(t, resp.Queued)

		instance := h.advance(t, id)
		assert.Equal(t, domain.StepCancelled, instance.Step)
		assert.Equal(t, domain.OutcomeOperatorCancelled, instance.Outcome)

		_, err = h.cancel.Execute(context.Background(), id.String())
		assert.ErrorIs(t, err, domain.ErrInstanceTerminal)
	})

	t.Run("before the order exists", func(t *testing.T) {
		h := newHarness(t)
		id := h.start(t).CorrelationID

		_, err := h.cancel.Execute(context.Background(), id.String())
		require.NoError(t, err)

		instance := h.advance(t, id)
		assert.Equal(t, domain.StepCancelled, instance.Step)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ignored once payment succeeded", func(t *testing.T) {
		h := newHarness(t)
		id := h.start(t).CorrelationID
		h.toAwaitingPayment(t, id, 42)

		h.payment(t, id, 42, true)
		_, err := h.cancel.Execute(context.Background(), id.String())
		require.NoError(t, err)

		h.orders.EXPECT().SetPaid(mock.Anything, 42).Return(nil).Once()
		instance := h.advance(t, id)
		assert.Equal(t, domain.StepPaid, instance.Step)
	})
}

func TestEngine_StartIsIdempotentPerCorrelationID(t *testing.T) {
	h := newHarness(t)
	req := orderRequest()

	first, started, err := h.engine.Start(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, started)

	second, started, err := h.engine.Start(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = h.engine.Start(context.Background(), domain.OrderRequest{CorrelationID: "bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderRequest)
}

func TestEngine_PublishFailureDoesNotStopWorkflow(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("sns unavailable")
	id := h.start(t).CorrelationID

	h.orders.EXPECT().CreateOrder(mock.Anything, mock.AnythingOfType("models.ID"), mock.Anything).Return(42, nil).Once()

	instance := h.advance(t, id)
	assert.Equal(t, domain.StepGracePeriod, instance.Step)
}

func TestEngine_AdvanceUnknownInstance(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Advance(context.Background(), models.GenerateUUID())
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}
