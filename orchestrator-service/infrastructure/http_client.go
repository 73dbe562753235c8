package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPClientConfig configures a collaborator service client
type HTTPClientConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// errorBody is the error payload collaborator services answer with
type errorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type jsonClient struct {
	baseURL    string
	apiVersion string
	http       *http.Client
}

func newJSONClient(cfg HTTPClientConfig, client *http.Client) *jsonClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &jsonClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		http:       client,
	}
}

// do sends body as JSON and decodes a 2xx response into out when out is not nil.
// Every failure comes back as a *domain.RemoteError.
func (c *jsonClient) do(ctx context.Context, op, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.NewRemoteError(op, http.StatusBadRequest, "", "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return domain.NewRemoteError(op, http.StatusBadRequest, "", "build request", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewRemoteError(op, 0, "", "", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewRemoteError(op, 0, "", "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(payload, &eb)
		return domain.NewRemoteError(op, resp.StatusCode, eb.ErrorCode, eb.Message, nil)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return domain.NewRemoteError(op, http.StatusUnprocessableEntity, "", "decode response", errors.Wrap(err, string(payload)))
	}

	return nil
}

func (c *jsonClient) url(path string) string {
	u := c.baseURL + path
	if c.apiVersion == "" {
		return u
	}
	return u + "?api-version=" + url.QueryEscape(c.apiVersion)
}
