package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultAPIBase   = "http://localhost:9000"
	defaultRelayBase = "http://localhost:9002"
)

// Client provides typed access to the orchestrator and the log relay for interactive tools.
type Client struct {
	baseURL    string
	relayURL   string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRelayURL points log following at a relay base URL (http, https, ws or wss).
func WithRelayURL(relay string) Option {
	return func(c *Client) {
		if strings.TrimSpace(relay) == "" {
			return
		}
		if normalized, err := normalizeBase(relay, defaultRelayBase); err == nil {
			c.relayURL = normalized
		}
	}
}

// WithDialer overrides the websocket dialer used by Follow.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New constructs a Client pointing at the provided orchestrator base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed, err := normalizeBase(base, defaultAPIBase)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    trimmed,
		relayURL:   defaultRelayBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

func normalizeBase(base, fallback string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = fallback
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", err
	}
	return strings.TrimRight(trimmed, "/"), nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Deployment is the tracking handle returned by Dispatch.
type Deployment struct {
	Slug string `json:"projectSlug"`
	URL  string `json:"url"`
}

// Dispatch asks the orchestrator to build gitURL. slug may be empty to let the server pick one.
func (c *Client) Dispatch(ctx context.Context, gitURL, slug string) (Deployment, error) {
	body := map[string]string{"gitURL": gitURL}
	if strings.TrimSpace(slug) != "" {
		body["slug"] = strings.TrimSpace(slug)
	}
	var resp struct {
		Status string     `json:"status"`
		Data   Deployment `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/project", body, &resp); err != nil {
		return Deployment{}, err
	}
	if resp.Data.Slug == "" {
		return Deployment{}, errors.New("api response missing projectSlug")
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}
