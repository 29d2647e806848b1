package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("first ip denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("second ip shares first ip's bucket")
	}
}

func TestRateLimiterRefillsAndSweeps(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	rl.lastSweep = clock

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("empty bucket allowed a request")
	}

	clock = clock.Add(2 * time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("bucket did not refill after 2s at 1 req/s")
	}

	clock = clock.Add(bucketTTL + sweepInterval)
	rl.Allow("10.0.0.2")
	rl.mu.Lock()
	_, stale := rl.buckets["10.0.0.1"]
	rl.mu.Unlock()
	if stale {
		t.Error("stale bucket survived the sweep")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}
