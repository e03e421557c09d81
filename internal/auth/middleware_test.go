package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type verifierFunc func(ctx context.Context, token string) (*TokenInfo, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (*TokenInfo, error) {
	return f(ctx, token)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		if info != nil {
			_, _ = w.Write([]byte(info.Subject))
		}
	})
}

func serve(h http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if header != "" {
		req.Header.Set(HeaderName, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareStatuses(t *testing.T) {
	v := verifierFunc(func(_ context.Context, token string) (*TokenInfo, error) {
		switch token {
		case "good":
			return &TokenInfo{Subject: "user-1"}, nil
		case "down":
			return nil, ErrIntrospectionUnavailable
		case "weird":
			return nil, errors.New("unexpected")
		default:
			return nil, ErrInvalidToken
		}
	})
	h := Middleware(v, Options{SkipPaths: []string{"/ping"}})(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid token", "/invocations", "Bearer good", http.StatusOK},
		{"lower-case scheme", "/invocations", "bearer good", http.StatusOK},
		{"missing header", "/invocations", "", http.StatusUnauthorized},
		{"wrong scheme", "/invocations", "Basic good", http.StatusUnauthorized},
		{"no token", "/invocations", "Bearer", http.StatusUnauthorized},
		{"rejected token", "/invocations", "Bearer nope", http.StatusUnauthorized},
		{"verifier unreachable", "/invocations", "Bearer down", http.StatusServiceUnavailable},
		{"unexpected failure", "/invocations", "Bearer weird", http.StatusInternalServerError},
		{"ping bypasses auth", "/ping", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.path, tt.header)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code != http.StatusOK {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("error body is not JSON: %v", err)
				}
				if body["message"] == "" {
					t.Error("error body has no message")
				}
			}
		})
	}
}

func TestMiddlewareStoresTokenInfo(t *testing.T) {
	h := Middleware(StaticVerifier{Token: "tok"}, Options{})(okHandler())
	rec := serve(h, "/invocations", "Bearer tok")
	if rec.Body.String() != "static" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "static")
	}
}

func TestMiddlewareBlocksRepeatedFailures(t *testing.T) {
	rl, _ := newTestLimiter(DefaultRateLimitConfig())
	var statuses []int
	h := Middleware(StaticVerifier{Token: "tok"}, Options{
		Limiter:   rl,
		OnFailure: func(status int) { statuses = append(statuses, status) },
	})(okHandler())

	for i := 0; i < 10; i++ {
		if rec := serve(h, "/invocations", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := serve(h, "/invocations", "Bearer tok")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429 response")
	}
	if len(statuses) != 11 || statuses[10] != http.StatusTooManyRequests {
		t.Errorf("OnFailure statuses = %v, want ten 401s then 429", statuses)
	}
}

func TestMiddlewareSuccessResetsFailures(t *testing.T) {
	rl, _ := newTestLimiter(DefaultRateLimitConfig())
	h := Middleware(StaticVerifier{Token: "tok"}, Options{Limiter: rl})(okHandler())

	for i := 0; i < 9; i++ {
		serve(h, "/invocations", "Bearer wrong")
	}
	serve(h, "/invocations", "Bearer tok")
	serve(h, "/invocations", "Bearer wrong")

	if rec := serve(h, "/invocations", "Bearer tok"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
