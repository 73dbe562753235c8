package infrastructure

import (
	"context"
	"net/http"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
)

var _ domain.PaymentClient = (*PaymentHTTPClient)(nil)

// PaymentHTTPClient starts payments at the payment processor
type PaymentHTTPClient struct {
	client *jsonClient
}

func NewPaymentHTTPClient(cfg HTTPClientConfig, httpClient *http.Client) *PaymentHTTPClient {
	return &PaymentHTTPClient{client: newJSONClient(cfg, httpClient)}
}

// PaymentRequest is the body the payment processor expects. The misspelt
// field name is part of its contract.
type PaymentRequest struct {
	OrderID       int    `json:"orderId"`
	CorrelationID string `json:"orderyGuid"`
}

// InitiatePayment only triggers the payment; the result arrives as a callback.
func (c *PaymentHTTPClient) InitiatePayment(ctx context.Context, orderID int, correlationID models.ID) error {
	return c.client.do(ctx, "payment.initiate", http.MethodPost, "/api/payment/confirm", nil,
		PaymentRequest{OrderID: orderID, CorrelationID: correlationID.String()}, nil)
}
