package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/predictgate/pkg/logging"
)

// KeyFunc derives the client key a request is counted against.
type KeyFunc func(r *http.Request) string

// Options configures Middleware.
type Options struct {
	Key      KeyFunc
	Logger   *slog.Logger
	OnReject func(r *http.Request)
}

// Middleware rejects requests over the limit with 429 before they reach next.
// A limiter error lets the request through.
func Middleware(l Limiter, opts Options) func(http.Handler) http.Handler {
	key := opts.Key
	if key == nil {
		key = ClientIP(false)
	}
	logger := logging.OrDefault(opts.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)
			d, err := Check(r.Context(), l, client)
			if err != nil && !errors.Is(err, ErrLimited) {
				logger.Error("rate limiter unavailable, allowing request",
					"client", client,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			resetIn := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
			if resetIn < 0 {
				resetIn = 0
			}
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(resetIn))

			if errors.Is(err, ErrLimited) {
				logger.Info("rate limit exceeded",
					"client", client,
					"path", r.URL.Path,
				)
				if opts.OnReject != nil {
					opts.OnReject(r)
				}
				h.Set("Retry-After", strconv.Itoa(resetIn))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":{"message":%q,"type":"predictgate_error","code":%d}}`,
					"too many requests, please try again later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by source address. With trustForwardedFor the first
// X-Forwarded-For hop wins, which is only safe behind a trusted proxy.
func ClientIP(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) string {
		if trustForwardedFor {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
					return ip.String()
				}
			}
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
