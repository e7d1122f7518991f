package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// NewUserRateLimiter limits requests per authenticated user, falling back to
// the client IP when no user is on the context. Each sync request can fan out
// to dozens of Huami calls, so these routes get a tighter budget than the
// rest of the API.
func NewUserRateLimiter(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(keyByUser),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
		}),
	)
}

func keyByUser(r *http.Request) (string, error) {
	if id := GetUserID(r.Context()); id != uuid.Nil {
		return "user:" + id.String(), nil
	}
	return httprate.KeyByIP(r)
}
