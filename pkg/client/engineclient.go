package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/engine"
	"github.com/dacompute/distarray/pkg/localarray"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// EngineClient talks to one engine over its HTTP API.
type EngineClient struct {
	baseURL string
	rank    int
	http    *http.Client
}

// NewEngineClient creates a client for the engine at addr (host:port or a
// full URL).
func NewEngineClient(addr string) *EngineClient {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &EngineClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		rank:    -1,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
}

// Close releases idle connections held by the client.
func (c *EngineClient) Close() {
	c.http.CloseIdleConnections()
}

// Rank returns the engine's rank, or -1 before the first health check.
func (c *EngineClient) Rank() int { return c.rank }

// BaseURL returns the engine's base URL.
func (c *EngineClient) BaseURL() string { return c.baseURL }

func (c *EngineClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var engineErr engine.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&engineErr); err != nil {
			return fmt.Errorf("engine %s: status %d: %w", c.baseURL, resp.StatusCode, ErrEngine)
		}
		if engineErr.Code == "not_local" {
			return fmt.Errorf("engine %s: %s: %w", c.baseURL, engineErr.Error, ErrNotLocal)
		}
		return fmt.Errorf("engine %s: %s: %w", c.baseURL, engineErr.Error, ErrEngine)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Health probes the engine and records its rank.
func (c *EngineClient) Health(ctx context.Context) (engine.HealthResponse, error) {
	var health engine.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &health); err != nil {
		return health, err
	}
	c.rank = health.Rank
	return health, nil
}

// Create builds a shard on the engine.
func (c *EngineClient) Create(ctx context.Context, req engine.CreateRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/arrays", req, nil)
}

// Fill sets every element of a shard.
func (c *EngineClient) Fill(ctx context.Context, key string, value float64) error {
	return c.do(ctx, http.MethodPost, "/v1/arrays/"+url.PathEscape(key)+"/fill", engine.FillRequest{Value: value}, nil)
}

// Get reads one element by global index.
func (c *EngineClient) Get(ctx context.Context, key string, index []int) (float64, error) {
	var resp engine.ElementResponse
	err := c.do(ctx, http.MethodPost, "/v1/arrays/"+url.PathEscape(key)+"/get", engine.ElementRequest{Index: index}, &resp)
	return resp.Value, err
}

// Set writes one element by global index.
func (c *EngineClient) Set(ctx context.Context, key string, index []int, value float64) error {
	return c.do(ctx, http.MethodPost, "/v1/arrays/"+url.PathEscape(key)+"/set", engine.ElementRequest{Index: index, Value: value}, nil)
}

// Moments fetches the shard's reduction partials.
func (c *EngineClient) Moments(ctx context.Context, key string) (localarray.Moments, error) {
	var resp engine.MomentsResponse
	err := c.do(ctx, http.MethodGet, "/v1/arrays/"+url.PathEscape(key)+"/moments", nil, &resp)
	return resp.Moments, err
}

// LocalPart fetches the shard's buffer and layout.
func (c *EngineClient) LocalPart(ctx context.Context, key string) (engine.LocalPartResponse, error) {
	var resp engine.LocalPartResponse
	err := c.do(ctx, http.MethodGet, "/v1/arrays/"+url.PathEscape(key)+"/localpart", nil, &resp)
	return resp, err
}

// Specs fetches the shard's dimension specs.
func (c *EngineClient) Specs(ctx context.Context, key string) ([]distmap.DimSpec, error) {
	var resp engine.SpecsResponse
	err := c.do(ctx, http.MethodGet, "/v1/arrays/"+url.PathEscape(key)+"/specs", nil, &resp)
	return resp.DimSpecs, err
}

// Save persists the shard to the engine's data directory.
func (c *EngineClient) Save(ctx context.Context, key, prefix string) error {
	return c.do(ctx, http.MethodPost, "/v1/arrays/"+url.PathEscape(key)+"/save", engine.SaveRequest{Prefix: prefix}, nil)
}

// Load restores a shard from the engine's data directory.
func (c *EngineClient) Load(ctx context.Context, key, prefix string) ([]distmap.DimSpec, error) {
	var resp engine.SpecsResponse
	err := c.do(ctx, http.MethodPost, "/v1/arrays/load", engine.LoadRequest{Key: key, Prefix: prefix}, &resp)
	return resp.DimSpecs, err
}

// Delete removes one shard.
func (c *EngineClient) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/v1/arrays/"+url.PathEscape(key), nil, nil)
}

// DeletePrefix removes every shard whose key starts with prefix.
func (c *EngineClient) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var resp engine.DeletedResponse
	err := c.do(ctx, http.MethodDelete, "/v1/arrays?prefix="+url.QueryEscape(prefix), nil, &resp)
	return resp.Removed, err
}

// Keys lists the shard keys the engine holds.
func (c *EngineClient) Keys(ctx context.Context) ([]string, error) {
	var resp engine.KeysResponse
	err := c.do(ctx, http.MethodGet, "/v1/arrays", nil, &resp)
	return resp.Keys, err
}
