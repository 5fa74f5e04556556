package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// TestLocationClient_Suburbs verifies the array response shape is parsed
// into suburb records.
func TestLocationClient_Suburbs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("postcode"); got != "3000" {
			t.Errorf("postcode query = %q, want 3000", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"-100","name":"MELBOURNE","postcode":"3000"},{"id":"-101","name":"MELBOURNE CBD","postcode":"3000"}]`))
	}))
	defer srv.Close()

	c, err := NewLocationClient(srv.URL, time.Second, fastRetry())
	if err != nil {
		t.Fatalf("NewLocationClient() error = %v", err)
	}

	suburbs, err := c.Suburbs(context.Background(), "3000")
	if err != nil {
		t.Fatalf("Suburbs() error = %v", err)
	}
	if len(suburbs) != 2 {
		t.Fatalf("Suburbs() returned %d records, want 2", len(suburbs))
	}
	if suburbs[0].ID != "-100" || suburbs[0].Name != "MELBOURNE" {
		t.Errorf("Suburbs()[0] = %+v", suburbs[0])
	}
}

// TestLocationClient_Suburbs_UnknownPostcode verifies the object response
// shape (statusCode field) maps to ErrPostcodeNotFound.
func TestLocationClient_Suburbs_UnknownPostcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode":400,"message":"postcode not found"}`))
	}))
	defer srv.Close()

	c, _ := NewLocationClient(srv.URL, time.Second, fastRetry())

	_, err := c.Suburbs(context.Background(), "9999")
	if !errors.Is(err, ErrPostcodeNotFound) {
		t.Errorf("Suburbs() error = %v, want ErrPostcodeNotFound", err)
	}
}

// TestLocationClient_ResolveLocationID verifies case-insensitive suburb
// matching against upper-cased API names.
func TestLocationClient_ResolveLocationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"-100","name":"MELBOURNE","postcode":"3000"},{"id":"-200","name":"EAST MELBOURNE","postcode":"3000"}]`))
	}))
	defer srv.Close()

	c, _ := NewLocationClient(srv.URL, time.Second, fastRetry())

	id, err := c.ResolveLocationID(context.Background(), "3000", " east melbourne ")
	if err != nil {
		t.Fatalf("ResolveLocationID() error = %v", err)
	}
	if id != "-200" {
		t.Errorf("ResolveLocationID() = %q, want -200", id)
	}

	_, err = c.ResolveLocationID(context.Background(), "3000", "Carlton")
	if !errors.Is(err, ErrSuburbNotFound) {
		t.Errorf("ResolveLocationID() error = %v, want ErrSuburbNotFound", err)
	}
}

// TestSolarClient_SolarDay verifies the weather response is mapped onto a
// SolarDay with location and date filled in.
func TestSolarClient_SolarDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("location"); got != "-100" {
			t.Errorf("location query = %q, want -100", got)
		}
		if got := r.URL.Query().Get("date"); got != "2021-08-21" {
			t.Errorf("date query = %q, want 2021-08-21", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sunrise":"06:32:00","sunset":"17:54:00","sunHours":8.4,"hourlyWeatherHistory":[{"hour":10,"cloudCoverPct":25}]}`))
	}))
	defer srv.Close()

	c, err := NewSolarClient(srv.URL, time.Second, fastRetry())
	if err != nil {
		t.Fatalf("NewSolarClient() error = %v", err)
	}

	day, err := c.SolarDay(context.Background(), "-100", "2021-08-21")
	if err != nil {
		t.Fatalf("SolarDay() error = %v", err)
	}
	if day.LocationID != "-100" || day.Date != "2021-08-21" {
		t.Errorf("SolarDay() identity = %q/%q", day.LocationID, day.Date)
	}
	if day.SunHours != 8.4 || day.Sunrise != "06:32:00" {
		t.Errorf("SolarDay() = %+v", day)
	}
	if cc := day.CloudCoverByHour(); cc[10] != 25 || cc[11] != 0 {
		t.Errorf("CloudCoverByHour() = %v", cc)
	}
	if day.Timestamp.IsZero() {
		t.Error("SolarDay().Timestamp is zero")
	}
}

// TestCaller_RetriesServerErrors verifies transient 5xx responses are
// retried until success.
func TestCaller_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sunrise":"06:00:00","sunset":"18:00:00","sunHours":9}`))
	}))
	defer srv.Close()

	c, _ := NewSolarClient(srv.URL, time.Second, fastRetry())

	if _, err := c.SolarDay(context.Background(), "-100", "2021-08-21"); err != nil {
		t.Fatalf("SolarDay() error = %v, want nil after retries", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

// TestCaller_ExhaustsRetries verifies a persistent 5xx eventually fails with
// the upstream failure sentinel.
func TestCaller_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewSolarClient(srv.URL, time.Second, fastRetry())

	_, err := c.SolarDay(context.Background(), "-100", "2021-08-21")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("SolarDay() error = %v, want ErrUpstreamFailure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

// TestCaller_NoRetryOnNotFound verifies 404 is terminal.
func TestCaller_NoRetryOnNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := NewLocationClient(srv.URL, time.Second, fastRetry())

	_, err := c.Suburbs(context.Background(), "9999")
	if !errors.Is(err, ErrPostcodeNotFound) {
		t.Errorf("Suburbs() error = %v, want ErrPostcodeNotFound", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 404)", got)
	}
}

// TestCaller_PropagatesCorrelationID verifies the request context correlation
// ID is forwarded as a header.
func TestCaller_PropagatesCorrelationID(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Correlation-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"-100","name":"MELBOURNE","postcode":"3000"}]`))
	}))
	defer srv.Close()

	c, _ := NewLocationClient(srv.URL, time.Second, fastRetry())

	ctx := context.WithValue(context.Background(), "correlation_id", "abc-123")
	if _, err := c.Suburbs(ctx, "3000"); err != nil {
		t.Fatalf("Suburbs() error = %v", err)
	}
	if gotHeader != "abc-123" {
		t.Errorf("X-Correlation-ID header = %q, want abc-123", gotHeader)
	}
}

// TestHolidayClient_IsHoliday verifies snapshot lookup by date and
// jurisdiction, and that repeated lookups reuse the snapshot.
func TestHolidayClient_IsHoliday(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.URL.Query().Get("resource_id"); got != "res-1" {
			t.Errorf("resource_id query = %q, want res-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"result":{"records":[
			{"Date":"20210921","Jurisdiction":"vic"},
			{"Date":"20210921","Jurisdiction":"act"},
			{"Date":"20211102","Jurisdiction":"vic"}
		]}}`))
	}))
	defer srv.Close()

	c, err := NewHolidayClient(srv.URL, "res-1", 100, time.Hour, time.Second, fastRetry())
	if err != nil {
		t.Fatalf("NewHolidayClient() error = %v", err)
	}

	ctx := context.Background()
	cupDay := time.Date(2021, 11, 2, 0, 0, 0, 0, time.UTC)

	holiday, err := c.IsHoliday(ctx, cupDay, "VIC")
	if err != nil {
		t.Fatalf("IsHoliday() error = %v", err)
	}
	if !holiday {
		t.Error("IsHoliday(cup day, vic) = false, want true")
	}

	holiday, err = c.IsHoliday(ctx, cupDay, "nsw")
	if err != nil {
		t.Fatalf("IsHoliday() error = %v", err)
	}
	if holiday {
		t.Error("IsHoliday(cup day, nsw) = true, want false")
	}

	holiday, err = c.IsHoliday(ctx, time.Date(2021, 11, 3, 0, 0, 0, 0, time.UTC), "vic")
	if err != nil {
		t.Fatalf("IsHoliday() error = %v", err)
	}
	if holiday {
		t.Error("IsHoliday(ordinary day) = true, want false")
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (snapshot reused)", got)
	}
}

// TestHolidayClient_StaleSnapshotOnRefreshFailure verifies a failed refresh
// keeps answering from the previous snapshot.
func TestHolidayClient_StaleSnapshotOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"result":{"records":[{"Date":"20210921","Jurisdiction":"vic"}]}}`))
	}))
	defer srv.Close()

	c, _ := NewHolidayClient(srv.URL, "res-1", 100, time.Nanosecond, time.Second, fastRetry())

	ctx := context.Background()
	date := time.Date(2021, 9, 21, 0, 0, 0, 0, time.UTC)

	if _, err := c.IsHoliday(ctx, date, "vic"); err != nil {
		t.Fatalf("IsHoliday() error = %v", err)
	}

	// TTL has elapsed; the refresh now fails but lookups still work.
	fail.Store(true)
	holiday, err := c.IsHoliday(ctx, date, "vic")
	if err != nil {
		t.Fatalf("IsHoliday() after failed refresh error = %v", err)
	}
	if !holiday {
		t.Error("IsHoliday() after failed refresh = false, want true from stale snapshot")
	}
}

// TestHolidayClient_UnsuccessfulEnvelope verifies success=false is an
// upstream failure.
func TestHolidayClient_UnsuccessfulEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c, _ := NewHolidayClient(srv.URL, "res-1", 100, time.Hour, time.Second, fastRetry())

	_, err := c.IsHoliday(context.Background(), time.Now(), "vic")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("IsHoliday() error = %v, want ErrUpstreamFailure", err)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{200, nil},
		{404, ErrPostcodeNotFound},
		{429, ErrRateLimited},
		{500, ErrUpstreamFailure},
		{502, ErrUpstreamFailure},
		{503, ErrUpstreamFailure},
		{504, ErrUpstreamFailure},
		{418, ErrUpstreamFailure},
	}
	for _, tc := range tests {
		err := checkStatus(tc.status)
		if tc.wantErr == nil {
			if err != nil {
				t.Errorf("checkStatus(%d) = %v, want nil", tc.status, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("checkStatus(%d) = %v, want %v", tc.status, err, tc.wantErr)
		}
	}
}

func TestBackoff_CappedAtMaxDelay(t *testing.T) {
	c := newCaller("test", time.Second, RetryPolicy{Attempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	for attempt := 1; attempt < 10; attempt++ {
		d := c.backoff(attempt)
		if d < 0 || d > time.Second+110*time.Millisecond {
			t.Errorf("backoff(%d) = %v, outside expected bounds", attempt, d)
		}
	}
}

func TestNewClients_RequireURL(t *testing.T) {
	if _, err := NewLocationClient("", time.Second, fastRetry()); err == nil {
		t.Error("NewLocationClient(\"\") error = nil, want error")
	}
	if _, err := NewSolarClient("", time.Second, fastRetry()); err == nil {
		t.Error("NewSolarClient(\"\") error = nil, want error")
	}
	if _, err := NewHolidayClient("", "res", 10, time.Hour, time.Second, fastRetry()); err == nil {
		t.Error("NewHolidayClient(\"\") error = nil, want error")
	}
	if _, err := NewHolidayClient("http://example.com", "", 10, time.Hour, time.Second, fastRetry()); err == nil {
		t.Error("NewHolidayClient with empty resource id error = nil, want error")
	}
}
