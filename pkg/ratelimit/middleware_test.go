package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func TestMiddlewareRejectsOverQuota(t *testing.T) {
	var served int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	})

	var rejected int
	h := Middleware(NewFixedWindow(30, time.Minute), Options{
		OnReject: func(r *http.Request) { rejected++ },
	})(next)

	for i := 1; i <= 31; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if i <= 30 {
			if rr.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
			}
			continue
		}

		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("request 31: expected 429, got %d", rr.Code)
		}
		if rr.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
		if rr.Header().Get("RateLimit-Remaining") != "0" {
			t.Errorf("expected 0 remaining, got %q", rr.Header().Get("RateLimit-Remaining"))
		}
		if !strings.Contains(rr.Body.String(), "too many requests") {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
	}

	if served != 30 {
		t.Errorf("expected 30 requests to reach the handler, got %d", served)
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejection callback, got %d", rejected)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	h := Middleware(NewFixedWindow(5, time.Minute), Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("RateLimit-Limit") != "5" {
		t.Errorf("expected limit 5, got %q", rr.Header().Get("RateLimit-Limit"))
	}
	if rr.Header().Get("RateLimit-Remaining") != "4" {
		t.Errorf("expected remaining 4, got %q", rr.Header().Get("RateLimit-Remaining"))
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	var served bool
	h := Middleware(failingLimiter{}, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", nil))

	if !served {
		t.Error("limiter errors should not block requests")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		remoteAddr string
		xff        string
		want       string
	}{
		{"RemoteAddr", false, "192.0.2.1:1234", "", "192.0.2.1"},
		{"IgnoresXFFByDefault", false, "192.0.2.1:1234", "203.0.113.9", "192.0.2.1"},
		{"TrustedXFF", true, "192.0.2.1:1234", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"InvalidXFF", true, "192.0.2.1:1234", "garbage", "192.0.2.1"},
		{"IPv6", false, "[2001:db8::1]:443", "", "2001:db8::1"},
		{"NoPort", false, "192.0.2.7", "", "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(tt.trust)(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
