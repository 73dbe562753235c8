package infrastructure

import (
	"context"
	"net/http"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
)

var _ domain.CatalogClient = (*CatalogHTTPClient)(nil)

// CatalogHTTPClient checks stock at the catalog service
type CatalogHTTPClient struct {
	client *jsonClient
}

func NewCatalogHTTPClient(cfg HTTPClientConfig, httpClient *http.Client) *CatalogHTTPClient {
	return &CatalogHTTPClient{client: newJSONClient(cfg, httpClient)}
}

type checkStockRequest struct {
	OrderID int                `json:"orderId"`
	Items   []domain.StockItem `json:"orderStockItems"`
}

func (c *CatalogHTTPClient) CheckStock(ctx context.Context, orderID int, items []domain.StockItem) (*domain.StockCheckResult, error) {
	var result domain.StockCheckResult
	err := c.client.do(ctx, "catalog.check_stock", http.MethodPost, "/api/catalog/check-stock", nil,
		checkStockRequest{OrderID: orderID, Items: items}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
