package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/application"
	"github.com/draftea/order-orchestrator/orchestrator-service/infrastructure"
	"github.com/draftea/order-orchestrator/orchestrator-service/mocks"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, ...*events.Event) error { return nil }

type idleScheduler struct{}

func (idleScheduler) Wake(models.ID)              {}
func (idleScheduler) WakeAt(models.ID, time.Time) {}

type testServer struct {
	router   *chi.Mux
	repo     *infrastructure.MemoryWorkflowRepository
	confirm  *application.ConfirmPayment
	handlers *OrderHandlers
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := infrastructure.NewMemoryWorkflowRepository(nil)
	engine := application.NewEngine(repo,
		mocks.NewMockOrderRecordClient(t),
		mocks.NewMockCatalogClient(t),
		mocks.NewMockPaymentClient(t),
		discardPublisher{},
		application.DefaultEngineConfig())
	engine.SetScheduler(idleScheduler{})

	store := idempotency.NewMemoryStore(nil)
	confirm := application.NewConfirmPayment(repo, idleScheduler{},
		idempotency.NewGuard(store, idempotency.WithNamespace("confirm_payment")), nil, nil)

	h := NewOrderHandlers(
		application.NewCreateOrder(engine, idempotency.NewGuard(store, idempotency.WithNamespace("create_order")), nil),
		application.NewGetOrderWorkflow(repo),
		application.NewCancelOrder(repo, idleScheduler{}, nil, nil),
		confirm,
		nil,
	)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return &testServer{router: r, repo: repo, confirm: confirm, handlers: h}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func requestID() http.Header {
	h := http.Header{}
	h.Set(RequestIDHeader, models.GenerateUUID().String())
	return h
}

func basket(correlationID models.ID) map[string]any {
	return map[string]any{
		"orderGuid": correlationID,
		"userId":    "user-1",
		"userName":  "alice",
		"items": []map[string]any{
			{"productId": 1, "productName": "Mug", "unitPrice": "9.99", "quantity": 2},
		},
	}
}

func (s *testServer) createOrder(t *testing.T) models.ID {
	t.Helper()
	id := models.GenerateUUID()
	rec := s.do(t, http.MethodPost, "/api/v1/orders", basket(id), requestID())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return id
}

func TestOrderHandlers_CreateOrder(t *testing.T) {
	tests := []struct {
		name         string
		body         func() any
		header       func() http.Header
		expectedCode int
	}{
		{
			name:         "accepted",
			body:         func() any { return basket(models.GenerateUUID()) },
			header:       requestID,
			expectedCode: http.StatusAccepted,
		},
		{
			name:         "missing request id",
			body:         func() any { return basket(models.GenerateUUID()) },
			header:       func() http.Header { return http.Header{} },
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "request id is not a uuid",
			body: func() any { return basket(models.GenerateUUID()) },
			header: func() http.Header {
				h := http.Header{}
				h.Set(RequestIDHeader, "abc")
				return h
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "malformed body",
			body:         func() any { return "{" },
			header:       requestID,
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "empty basket",
			body: func() any {
				b := basket(models.GenerateUUID())
				delete(b, "items")
				return b
			},
			header:       requestID,
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/v1/orders", tt.body(), tt.header())
			assert.Equal(t, tt.expectedCode, rec.Code, rec.Body.String())
		})
	}
}

func TestOrderHandlers_CreateOrderRetries(t *testing.T) {
	s := newTestServer(t)
	id := models.GenerateUUID()
	header := requestID()

	first := s.do(t, http.MethodPost, "/api/v1/orders", basket(id), header)
	require.Equal(t, http.StatusAccepted, first.Code)

	retried := s.do(t, http.MethodPost, "/api/v1/orders", basket(id), header)
	assert.Equal(t, http.StatusAccepted, retried.Code)
	assert.JSONEq(t, first.Body.String(), retried.Body.String())

	resubmitted := s.do(t, http.MethodPost, "/api/v1/orders", basket(id), requestID())
	assert.Equal(t, http.StatusOK, resubmitted.Code)

	var resp application.CreateOrderResponse
	require.NoError(t, json.Unmarshal(resubmitted.Body.Bytes(), &resp))
	assert.False(t, resp.Started)
	assert.Equal(t, id.String(), resp.CorrelationID)
}

func TestOrderHandlers_GetOrder(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	rec := s.do(t, http.MethodGet, "/api/v1/orders/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp application.OrderWorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "created", resp.Step)
	assert.Equal(t, "19.98", resp.Total)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+id.String()+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []application.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, events.OrderWorkflowStartedTopic.String(), history[0].Topic)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+models.GenerateUUID().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderHandlers_CancelOrder(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/"+id.String()+"/cancel", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp application.CancelOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+models.GenerateUUID().String()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderHandlers_PaymentCallback(t *testing.T) {
	tests := []struct {
		name         string
		body         func(id models.ID) any
		expectedCode int
		outcome      application.PaymentOutcome
	}{
		{
			name: "accepted",
			body: func(id models.ID) any {
				return map[string]any{"correlationId": id, "succeeded": true}
			},
			expectedCode: http.StatusOK,
			outcome:      application.PaymentOutcomeAccepted,
		},
		{
			name: "unknown workflow",
			body: func(models.ID) any {
				return map[string]any{"correlationId": models.GenerateUUID(), "succeeded": true}
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "malformed correlation id",
			body: func(models.ID) any {
				return map[string]any{"correlationId": "order-1", "succeeded": false}
			},
			expectedCode: http.StatusUnprocessableEntity,
		},
		{
			name:         "malformed body",
			body:         func(models.ID) any { return "[]" },
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			id := s.createOrder(t)

			rec := s.do(t, http.MethodPost, "/api/v1/payments/callback", tt.body(id), requestID())
			require.Equal(t, tt.expectedCode, rec.Code, rec.Body.String())

			if tt.outcome != "" {
				var resp application.ConfirmPaymentResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.outcome, resp.Outcome)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
