package domain

import (
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BasketItem is one line of the customer's basket
type BasketItem struct {
	ID           string          `json:"id"`
	ProductID    int             `json:"productId"`
	ProductName  string          `json:"productName"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	OldUnitPrice decimal.Decimal `json:"oldUnitPrice"`
	Quantity     int             `json:"quantity"`
	PictureURL   string          `json:"pictureUrl"`
}

func (b BasketItem) Validate() error {
	if b.ProductID <= 0 {
		return errors.Errorf("product id must be positive, got %d", b.ProductID)
	}
	if b.Quantity <= 0 {
		return errors.Errorf("quantity for product %d must be positive", b.ProductID)
	}
	if b.UnitPrice.IsNegative() {
		return errors.Errorf("unit price for product %d must not be negative", b.ProductID)
	}
	return nil
}

// Total is unit price times quantity
func (b BasketItem) Total() decimal.Decimal {
	return b.UnitPrice.Mul(decimal.NewFromInt(int64(b.Quantity)))
}

// OrderRequest is the immutable input of a workflow. Buyer, shipping and card
// fields are passed through to the ordering service untouched.
type OrderRequest struct {
	CorrelationID      models.ID    `json:"orderGuid"`
	UserID             string       `json:"userId"`
	UserName           string       `json:"userName"`
	City               string       `json:"city"`
	Street             string       `json:"street"`
	State              string       `json:"state"`
	Country            string       `json:"country"`
	ZipCode            string       `json:"zipCode"`
	CardNumber         string       `json:"cardNumber"`
	CardHolderName     string       `json:"cardHolderName"`
	CardExpiration     time.Time    `json:"cardExpiration"`
	CardSecurityNumber string       `json:"cardSecurityNumber"`
	CardTypeID         int          `json:"cardTypeId"`
	Buyer              string       `json:"buyer"`
	Items              []BasketItem `json:"items"`
}

// Validate normalises the correlation id and checks the basket
func (r *OrderRequest) Validate() error {
	id, err := models.NewID(r.CorrelationID.String())
	if err != nil {
		return errors.Wrapf(ErrInvalidOrderRequest, "correlation id %q is not a UUID", r.CorrelationID)
	}
	r.CorrelationID = id

	if len(r.Items) == 0 {
		return errors.Wrap(ErrInvalidOrderRequest, "basket has no items")
	}

	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return errors.Wrap(ErrInvalidOrderRequest, err.Error())
		}
	}

	return nil
}

// Total is the basket value
func (r OrderRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Total())
	}
	return total
}

// StockItems lists the product quantities to check against the catalog
func (r OrderRequest) StockItems() []StockItem {
	items := make([]StockItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = StockItem{ProductID: item.ProductID, Units: item.Quantity}
	}
	return items
}
