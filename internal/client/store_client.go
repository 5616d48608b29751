// Package client talks to a remote store process over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/store"
)

const maxErrorBody = 4 << 10

// StoreClient implements store.Store against GET /api/db and POST /api/save.
type StoreClient struct {
	baseURL    string
	httpClient *http.Client
	role       string
	email      string
	logger     zerolog.Logger
}

var _ store.Store = (*StoreClient)(nil)

// Option customises a StoreClient.
type Option func(*StoreClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *StoreClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithIdentity sets the role and email declared on every request.
func WithIdentity(role, email string) Option {
	return func(c *StoreClient) {
		c.role = strings.TrimSpace(role)
		c.email = strings.ToLower(strings.TrimSpace(email))
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *StoreClient) {
		c.logger = logger.With().Str("component", "store_client").Logger()
	}
}

// NewStoreClient builds a client for the store process at baseURL.
func NewStoreClient(baseURL string, opts ...Option) *StoreClient {
	c := &StoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamURL returns the websocket address of the change stream.
func (c *StoreClient) StreamURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/api/db/stream"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/api/db/stream"
	default:
		return c.baseURL + "/api/db/stream"
	}
}

// Headers returns the identity headers sent with every request.
func (c *StoreClient) Headers() http.Header {
	header := http.Header{}
	if c.role != "" {
		header.Set("X-Client-Role", c.role)
	}
	if c.email != "" {
		header.Set("X-Client-Email", c.email)
	}
	return header
}

func (c *StoreClient) ReadAll(ctx context.Context) (store.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/db", nil)
	if err != nil {
		return nil, fmt.Errorf("build read request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", store.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message := readErrorMessage(resp.Body)
		return nil, fmt.Errorf("%w: read returned %d %s", store.ErrUnavailable, resp.StatusCode, message)
	}

	var snapshot store.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", store.ErrUnavailable, err)
	}

	return snapshot, nil
}

func (c *StoreClient) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	body, err := json.Marshal(dto.SaveRequest{Key: key, Data: records})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidRecords, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/save", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", store.ErrUnavailable, key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		message := readErrorMessage(resp.Body)
		if strings.EqualFold(message, "Invalid key") {
			return fmt.Errorf("%w: %q", store.ErrInvalidKey, key)
		}
		return fmt.Errorf("%w: %s: %s", store.ErrInvalidRecords, key, message)
	default:
		// Throttling and server faults are transient from the caller's view.
		message := readErrorMessage(resp.Body)
		c.logger.Debug().Int("status", resp.StatusCode).Str("collection", key).Msg("save not accepted")
		return fmt.Errorf("%w: save %s returned %d %s", store.ErrUnavailable, key, resp.StatusCode, message)
	}
}

func (c *StoreClient) decorate(req *http.Request) {
	for name, values := range c.Headers() {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload dto.ErrorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
