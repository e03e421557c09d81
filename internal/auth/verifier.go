// Package auth verifies bearer credentials on the invocation endpoint and
// throttles clients that keep presenting bad ones.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrInvalidToken means the credential is missing, malformed or rejected.
	ErrInvalidToken = errors.New("invalid token")
	// ErrIntrospectionUnavailable means the introspection endpoint could not
	// be reached or did not answer in time.
	ErrIntrospectionUnavailable = errors.New("token introspection unavailable")
)

// DefaultIntrospectionTimeout bounds one introspection call.
const DefaultIntrospectionTimeout = 10 * time.Second

// TokenInfo is what the introspection endpoint says about a token.
type TokenInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Scope   string `json:"scope"`
	Expires string `json:"exp"`
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*TokenInfo, error)
}

// IntrospectionVerifier asks a token-info endpoint about each token with
// GET <url>?access_token=<token>. Any status other than 200 rejects it.
type IntrospectionVerifier struct {
	url    string
	client *http.Client
}

// NewIntrospectionVerifier creates a verifier for endpoint. A nil client gets
// one with DefaultIntrospectionTimeout.
func NewIntrospectionVerifier(endpoint string, client *http.Client) (*IntrospectionVerifier, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("introspection url %q is not absolute", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultIntrospectionTimeout}
	}
	return &IntrospectionVerifier{url: endpoint, client: client}, nil
}

// Verify implements Verifier.
func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	u, err := url.Parse(v.url)
	if err != nil {
		return nil, fmt.Errorf("parse introspection url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("introspection canceled: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIntrospectionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: introspection returned %d", ErrInvalidToken, resp.StatusCode)
	}

	var info TokenInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: unreadable introspection response: %w", ErrInvalidToken, err)
	}
	return &info, nil
}

// StaticVerifier accepts exactly one shared token. It is meant for local
// runs where no introspection endpoint exists.
type StaticVerifier struct {
	Token string
}

// Verify implements Verifier with a timing-safe comparison.
func (s StaticVerifier) Verify(_ context.Context, token string) (*TokenInfo, error) {
	if !ValidateKey(token, s.Token) {
		return nil, ErrInvalidToken
	}
	return &TokenInfo{Subject: "static"}, nil
}

// ValidateKey performs timing-safe comparison of provided against expected.
// An empty expected key never matches.
func ValidateKey(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
