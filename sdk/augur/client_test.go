package augur

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaher/augur/internal/auth"
	"github.com/szaher/augur/internal/orchestrator"
	"github.com/szaher/augur/internal/runtime"
	"github.com/szaher/augur/internal/telemetry"
)

type invoker func(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)

func (f invoker) Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	return f(ctx, req)
}

func newServer(t *testing.T, inv invoker) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(runtime.NewServer(inv, runtime.WithVerifier(auth.StaticVerifier{Token: "tok"})).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthHeaderMatchesServer(t *testing.T) {
	assert.Equal(t, auth.HeaderName, AuthHeader)
}

func TestPing(t *testing.T) {
	srv := newServer(t, nil)
	resp, err := NewClient(srv.URL + "/").Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &HealthResponse{Status: "healthy", Service: "augur"}, resp)
}

func TestInvoke(t *testing.T) {
	var got orchestrator.Request
	var corr string
	srv := newServer(t, func(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
		got = req
		corr = telemetry.CorrelationID(ctx)
		return &orchestrator.Response{Response: "The Star shines on you.", Agent: "tarot", SessionID: req.SessionID, CardList: []string{"The Star"}}, nil
	})

	c := NewClient(srv.URL, WithToken("tok"), WithCorrelationID("trace-9"))
	resp, err := c.Invoke(context.Background(), Request{Prompt: "one card please", ActorID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.Request{Prompt: "one card please", ActorID: "u1", SessionID: "s1"}, got)
	assert.Equal(t, "trace-9", corr)
	assert.Equal(t, "tarot", resp.Agent)
	assert.Equal(t, []string{"The Star"}, resp.CardList)
}

func TestInvokeErrors(t *testing.T) {
	srv := newServer(t, func(context.Context, orchestrator.Request) (*orchestrator.Response, error) {
		return nil, errors.New("history store down")
	})

	_, err := NewClient(srv.URL).Invoke(context.Background(), Request{Prompt: "hi"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)

	_, err = NewClient(srv.URL, WithToken("tok")).Invoke(context.Background(), Request{Prompt: "hi"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "internal_error", apiErr.ErrorCode)
	assert.Equal(t, "failed to process invocation", apiErr.Message)
}
