package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/jwt"
)

// DefaultRetryAfter is sent with 503 responses.
const DefaultRetryAfter = 30 * time.Second

// Validator is the part of [authcore.Engine] the guard needs.
type Validator interface {
	ValidateAccess(ctx context.Context, bearer string) (*jwt.Claims, error)
}

type claimsContextKey struct{}

func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return claims, ok
}

// WithClaims returns ctx carrying claims, as Guard would.
func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

type options struct {
	retryAfter time.Duration
}

type Option func(*options)

// WithRetryAfter overrides DefaultRetryAfter. Values under a second are
// rounded up to one.
func WithRetryAfter(d time.Duration) Option {
	return func(o *options) { o.retryAfter = d }
}

func Guard(v Validator, opts ...Option) func(http.Handler) http.Handler {
	o := options{retryAfter: DefaultRetryAfter}
	for _, opt := range opts {
		opt(&o)
	}
	retryAfter := retryAfterSeconds(o.retryAfter)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := v.ValidateAccess(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, authcore.ErrUnauthorized):
				unauthorized(w)
				return
			default:
				unavailable(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func unavailable(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, "service unavailable", http.StatusServiceUnavailable)
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(1, int((d+time.Second-1)/time.Second)))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
