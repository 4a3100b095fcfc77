package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/medconnect/authcore"
)

// Revoker is the part of [authcore.Engine] LogoutHandler needs.
type Revoker interface {
	Logout(ctx context.Context, username, jti string) error
}

// LogoutHandler revokes the access token Guard validated for this request
// and answers 204. Mount it behind Guard.
func LogoutHandler(rv Revoker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || rv == nil {
			unauthorized(w)
			return
		}

		err := rv.Logout(r.Context(), claims.Name, claims.ID)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, authcore.ErrUnauthorized):
			unauthorized(w)
		default:
			unavailable(w, retryAfterSeconds(DefaultRetryAfter))
		}
	})
}
