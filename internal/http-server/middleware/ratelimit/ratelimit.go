package ratelimit

import (
	"context"
	"linkgate/lib/api/cont"
	"linkgate/lib/api/response"
	"linkgate/lib/sl"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, error)
	Limit() int
	Window() time.Duration
}

// New limits requests per client address. A limiter error lets the request through.
func New(log *slog.Logger, limiter Limiter) func(next http.Handler) http.Handler {
	logger := log.With(sl.Module("middleware.ratelimit"))

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := cont.GetRemoteAddr(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			allowed, remaining, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate limit", sl.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				logger.With(slog.String("remote_addr", key)).Warn("rate limit exceeded")
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("Rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
