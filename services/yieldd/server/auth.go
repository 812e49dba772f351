package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// authenticator gates mutating routes behind a shared-secret header. The
// secret is the bound market's credential; requests that present it act as
// the market identity.
type authenticator struct {
	header string
	secret []byte
}

func newAuthenticator(header, secret string) *authenticator {
	return &authenticator{
		header: strings.TrimSpace(header),
		secret: []byte(strings.TrimSpace(secret)),
	}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "shared secret not configured"})
			return
		}
		presented := []byte(strings.TrimSpace(r.Header.Get(a.header)))
		if len(presented) != len(a.secret) || subtle.ConstantTimeCompare(presented, a.secret) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid shared secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttle applies a global token-bucket limit across mutating routes.
func throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
