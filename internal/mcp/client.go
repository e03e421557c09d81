// Package mcp connects to Model Context Protocol servers and exposes their
// tools to agents through the tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transports.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable-http"
)

var ErrNotConnected = errors.New("mcp client not connected")

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the fields the transport needs.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.New("mcp server name is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: stdio transport needs a command", c.Name)
		}
	case TransportSSE, TransportStreamable:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("mcp server %s: %s transport needs an http(s) url", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("mcp server %s: unsupported transport %q", c.Name, c.Transport)
	}
	return nil
}

// ToolInfo describes a tool available on an MCP server.
type ToolInfo struct {
	ServerName  string         `json:"server_name"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Client is a connection to one server.
type Client struct {
	config    ServerConfig
	transport mcpsdk.Transport

	mu      sync.RWMutex
	session *mcpsdk.ClientSession
}

// NewClient creates a client for config.
func NewClient(config ServerConfig) *Client {
	return &Client{config: config}
}

// NewClientWithTransport creates a client over an already built transport,
// such as one half of an in-memory pair.
func NewClientWithTransport(name string, t mcpsdk.Transport) *Client {
	return &Client{config: ServerConfig{Name: name}, transport: t}
}

// Name returns the server name.
func (c *Client) Name() string { return c.config.Name }

// Connect establishes the session.
func (c *Client) Connect(ctx context.Context) error {
	t := c.transport
	if t == nil {
		var err error
		if t, err = c.buildTransport(ctx); err != nil {
			return err
		}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "augur", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("mcp connect to %s: %w", c.config.Name, err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

func (c *Client) buildTransport(ctx context.Context) (mcpsdk.Transport, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	switch c.config.Transport {
	case TransportStdio:
		return &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, c.config.Command, c.config.Args...)}, nil
	case TransportSSE:
		return &mcpsdk.SSEClientTransport{Endpoint: c.config.URL, HTTPClient: c.httpClient()}, nil
	default:
		return &mcpsdk.StreamableClientTransport{Endpoint: c.config.URL, HTTPClient: c.httpClient()}, nil
	}
}

func (c *Client) httpClient() *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if len(c.config.Headers) > 0 {
		rt = headerTransport{base: rt, headers: c.config.Headers}
	}
	// No client-level timeout: SSE streams stay open. Calls are bounded by
	// their contexts.
	return &http.Client{Transport: rt}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func (c *Client) current() (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.config.Name)
	}
	return c.session, nil
}

// ListTools returns every tool the server offers.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}

	var tools []ToolInfo
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp list tools on %s: %w", c.config.Name, err)
		}
		tools = append(tools, ToolInfo{
			ServerName:  c.config.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaMap(tool.InputSchema),
		})
	}
	return tools, nil
}

// schemaMap converts whatever schema representation the SDK returns into a
// plain JSON object, defaulting to an empty object schema.
func schemaMap(schema any) map[string]any {
	out := map[string]any{"type": "object"}
	if schema == nil {
		return out
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return out
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// CallTool invokes a tool and joins its text content. A result flagged as an
// error is returned as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.current()
	if err != nil {
		return "", err
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp call tool %s: %w", name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s returned error: %s", name, text)
	}
	return text, nil
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
