// Package augur provides a Go client for the augur invocation API.
//
// Usage:
//
//	client := augur.NewClient("http://localhost:8080", augur.WithToken(accessToken))
//	resp, err := client.Invoke(ctx, augur.Request{Prompt: "Draw three cards for me"})
//	fmt.Println(resp.Response, resp.CardList)
package augur

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AuthHeader carries the bearer token.
const AuthHeader = "X-Amzn-Bedrock-Agentcore-Runtime-Custom-App-Auth"

// Request is one conversational turn. Empty IDs use the server defaults.
type Request struct {
	Prompt    string `json:"prompt"`
	ActorID   string `json:"actor_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the server's answer.
type Response struct {
	Response  string   `json:"response"`
	Agent     string   `json:"agent"`
	SessionID string   `json:"session_id"`
	CardList  []string `json:"card_list"`
}

// HealthResponse is the response from the ping endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// APIError represents an error response from the augur API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error"`
	Message    string `json:"message"`
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every invocation.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithCorrelationID tags every request so server logs can be joined with
// the caller's.
func WithCorrelationID(id string) Option {
	return func(c *Client) { c.correlationID = id }
}

// Client is the augur API client.
type Client struct {
	baseURL       string
	token         string
	correlationID string
	httpClient    *http.Client
}

// NewClient creates a new client. The timeout default covers the server's
// full graph deadline.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 11 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(AuthHeader, "Bearer "+c.token)
	}
	if c.correlationID != "" {
		req.Header.Set("X-Correlation-ID", c.correlationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.ErrorCode = "unknown"
			apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := time.ParseDuration(s + "s"); err == nil {
				apiErr.RetryAfter = secs
			}
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// Ping checks the service health. It needs no token.
func (c *Client) Ping(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ping", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Invoke sends one turn and waits for the answer.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	var result Response
	if err := c.doJSON(ctx, http.MethodPost, "/invocations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
