package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evcharge/estimator-service/internal/traffic"
)

// TestCorrelationIDMiddleware_GeneratesID verifies a correlation ID is
// generated when the request carries none, placed in context, and echoed in
// the response header.
func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = r.Context().Value("correlation_id").(string)
	})

	handler := CorrelationIDMiddleware(zap.NewNop())(inner)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ctxID == "" {
		t.Fatal("correlation_id missing from request context")
	}
	if _, err := uuid.Parse(ctxID); err != nil {
		t.Errorf("correlation_id %q is not a UUID: %v", ctxID, err)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != ctxID {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, ctxID)
	}
}

// TestCorrelationIDMiddleware_PropagatesID verifies an incoming correlation
// ID is reused rather than replaced.
func TestCorrelationIDMiddleware_PropagatesID(t *testing.T) {
	var ctxID string
	var ctxLogger *zap.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = r.Context().Value("correlation_id").(string)
		ctxLogger, _ = r.Context().Value("logger").(*zap.Logger)
	})

	handler := CorrelationIDMiddleware(zap.NewNop())(inner)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ctxID != "client-supplied-id" {
		t.Errorf("correlation_id = %q, want client-supplied-id", ctxID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "client-supplied-id" {
		t.Errorf("X-Correlation-ID header = %q, want client-supplied-id", got)
	}
	if ctxLogger == nil {
		t.Error("logger missing from request context")
	}
}

// TestMetricsMiddleware_RecordsStatus verifies the wrapped handler's status
// code is captured by the recorder.
func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := MetricsMiddleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/estimate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/api/v1/estimate", "/api/v1/estimate"},
		{"/api/v1/duration", "/api/v1/duration"},
		{"/api/v1/history", "/api/v1/history"},
		{"/api/v1/locations/3000", "/api/v1/locations/{postcode}"},
		{"/api/v1/locations/2000", "/api/v1/locations/{postcode}"},
		{"/test", "/test"},
		{"/test/load", "/test"},
		{"/unknown", "/unknown"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if got := getRoute(req); got != tc.want {
			t.Errorf("getRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
	}
	for _, tc := range tests {
		if got := statusCodeString(tc.code); got != tc.want {
			t.Errorf("statusCodeString(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

// TestRateLimitMiddleware verifies requests beyond the burst are rejected
// with a 429 and a stable error code.
func TestRateLimitMiddleware(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()

	limiter := rate.NewLimiter(rate.Limit(1), 2)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(limiter)(inner)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/estimate", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests = %v, want 200s within burst", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", codes[2])
	}
	if got := traffic.DenialCount(time.Minute); got != 1 {
		t.Errorf("denial count = %d, want 1", got)
	}
}

// TestRateLimitMiddleware_NilLimiter verifies a nil limiter disables rate
// limiting entirely.
func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(nil)(inner)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/estimate", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

// TestTimeoutMiddleware verifies the request context carries the configured
// deadline.
func TestTimeoutMiddleware(t *testing.T) {
	var hadDeadline bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	})

	handler := TimeoutMiddleware(50 * time.Millisecond)(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/estimate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !hadDeadline {
		t.Error("request context has no deadline")
	}
}
