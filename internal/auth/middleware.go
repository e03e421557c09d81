package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderName carries the bearer credential. The platform in front of the
// runtime reserves Authorization for itself.
const HeaderName = "X-Amzn-Bedrock-Agentcore-Runtime-Custom-App-Auth"

type ctxKey struct{}

// FromContext returns the verified token info stored by Middleware.
func FromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(ctxKey{}).(*TokenInfo)
	return info, ok
}

// Options configure Middleware.
type Options struct {
	// SkipPaths bypass authentication entirely.
	SkipPaths []string
	// Limiter, when set, blocks clients after repeated failures.
	Limiter *RateLimiter
	// OnFailure observes every rejected request with its status code.
	OnFailure func(status int)
	Logger    *slog.Logger
}

// Middleware verifies the bearer token in HeaderName. Missing, malformed or
// rejected tokens get 401, an unreachable verifier 503 and anything else 500.
func Middleware(v Verifier, opts Options) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			fail := func(status int, message string) {
				if opts.OnFailure != nil {
					opts.OnFailure(status)
				}
				writeAuthError(w, status, message)
			}

			clientIP := ClientIPKeyFunc(r)
			rl := opts.Limiter
			if rl != nil && rl.IsAuthBlocked(clientIP) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", rl.AuthBlockRetryAfter(clientIP)))
				fail(http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
				return
			}

			token, err := bearerToken(r.Header.Get(HeaderName))
			if err != nil {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				fail(http.StatusUnauthorized, err.Error())
				return
			}

			info, err := v.Verify(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidToken):
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				logger.WarnContext(r.Context(), "token rejected", "client", clientIP, "error", err)
				w.Header().Set("WWW-Authenticate", "Bearer")
				fail(http.StatusUnauthorized, "Invalid or expired access token")
				return
			case errors.Is(err, ErrIntrospectionUnavailable):
				logger.ErrorContext(r.Context(), "token verification unavailable", "error", err)
				fail(http.StatusServiceUnavailable, "Token verification service unavailable")
				return
			default:
				logger.ErrorContext(r.Context(), "token verification failed", "error", err)
				fail(http.StatusInternalServerError, "Internal server error during authentication")
				return
			}

			if rl != nil {
				rl.AuthSuccess(clientIP)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, info)))
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header format, expected 'Bearer <token>'")
	}
	return strings.TrimSpace(token), nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
