package domain

import (
	"context"

	"github.com/draftea/order-orchestrator/shared/models"
)

// StockItem is a product quantity sent to the catalog
type StockItem struct {
	ProductID int `json:"productId"`
	Units     int `json:"units"`
}

// StockItemResult is the catalog verdict for one product
type StockItemResult struct {
	ProductID int  `json:"productId"`
	HasStock  bool `json:"hasStock"`
}

// StockCheckResult is the catalog response for a whole order
type StockCheckResult struct {
	OrderID        int               `json:"orderId"`
	StockConfirmed bool              `json:"stockConfirmed"`
	Items          []StockItemResult `json:"orderStockItems"`
}

// Confirmed is true only when the catalog confirmed and no line lacks stock
func (r *StockCheckResult) Confirmed() bool {
	if !r.StockConfirmed {
		return false
	}
	for _, item := range r.Items {
		if !item.HasStock {
			return false
		}
	}
	return true
}

// OrderRecordClient creates orders and moves their status at the ordering
// service. Every status call must be safe to repeat.
type OrderRecordClient interface {
	CreateOrder(ctx context.Context, requestID models.ID, req OrderRequest) (int, error)
	SetAwaitingValidation(ctx context.Context, orderID int) error
	ConfirmStock(ctx context.Context, orderID int) error
	RejectStock(ctx context.Context, orderID int, items []StockItemResult) error
	SetPaid(ctx context.Context, orderID int) error
	Cancel(ctx context.Context, orderID int) error
}

// CatalogClient checks stock availability
type CatalogClient interface {
	CheckStock(ctx context.Context, orderID int, items []StockItem) (*StockCheckResult, error)
}

// PaymentClient triggers a payment. The result arrives later as a callback.
type PaymentClient interface {
	InitiatePayment(ctx context.Context, orderID int, correlationID models.ID) error
}
