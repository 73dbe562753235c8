package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
)

var _ domain.OrderRecordClient = (*OrderingHTTPClient)(nil)

// RequestIDHeader carries the idempotency key of a command
const RequestIDHeader = "x-requestid"

// OrderingHTTPClient talks to the ordering service
type OrderingHTTPClient struct {
	client *jsonClient
}

func NewOrderingHTTPClient(cfg HTTPClientConfig, httpClient *http.Client) *OrderingHTTPClient {
	return &OrderingHTTPClient{client: newJSONClient(cfg, httpClient)}
}

// CreateOrder creates the order record. The request id lets the ordering
// service drop a retried create.
func (c *OrderingHTTPClient) CreateOrder(ctx context.Context, requestID models.ID, req domain.OrderRequest) (int, error) {
	header := http.Header{}
	header.Set(RequestIDHeader, requestID.String())

	var orderID int
	if err := c.client.do(ctx, "ordering.create_order", http.MethodPost, "/api/orders/create", header, req, &orderID); err != nil {
		return 0, err
	}
	return orderID, nil
}

func (c *OrderingHTTPClient) SetAwaitingValidation(ctx context.Context, orderID int) error {
	return c.patch(ctx, "ordering.set_awaiting_validation", orderID, "awaiting-validation", nil)
}

func (c *OrderingHTTPClient) ConfirmStock(ctx context.Context, orderID int) error {
	return c.patch(ctx, "ordering.confirm_stock", orderID, "confirm-stock", nil)
}

func (c *OrderingHTTPClient) RejectStock(ctx context.Context, orderID int, items []domain.StockItemResult) error {
	if items == nil {
		items = []domain.StockItemResult{}
	}
	return c.patch(ctx, "ordering.reject_stock", orderID, "stock-rejected", items)
}

func (c *OrderingHTTPClient) SetPaid(ctx context.Context, orderID int) error {
	return c.patch(ctx, "ordering.set_paid", orderID, "paid", nil)
}

func (c *OrderingHTTPClient) Cancel(ctx context.Context, orderID int) error {
	return c.patch(ctx, "ordering.cancel", orderID, "cancel", nil)
}

func (c *OrderingHTTPClient) patch(ctx context.Context, op string, orderID int, action string, body any) error {
	return c.client.do(ctx, op, http.MethodPatch, fmt.Sprintf("/api/orders/%d/%s", orderID, action), nil, body, nil)
}
