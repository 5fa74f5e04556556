package cache

import (
	"context"
	"testing"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
)

func TestKey(t *testing.T) {
	if got := Key("-100", "2021-08-21"); got != "-100|2021-08-21" {
		t.Errorf("Key() = %q, want -100|2021-08-21", got)
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := models.SolarDay{LocationID: "-100", Date: "2021-08-21", SunHours: 9.5, Timestamp: time.Now()}
	err := c.Set(ctx, Key("-100", "2021-08-21"), val, time.Minute)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, Key("-100", "2021-08-21"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.LocationID != val.LocationID || got.SunHours != val.SunHours {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get treats expired entries as
// misses while keeping them available for stale reads.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := models.SolarDay{LocationID: "-100", Timestamp: time.Now()}
	err := c.Set(ctx, "key", val, 1*time.Millisecond)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(2 * time.Millisecond)

	_, ok, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}

	// Expired entry still serves stale reads within the stale window.
	stale, ok, err := c.GetStale(ctx, "key", time.Hour)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if !ok {
		t.Fatal("GetStale() ok = false, want true for expired entry")
	}
	if stale.LocationID != val.LocationID {
		t.Errorf("GetStale() = %+v, want %+v", stale, val)
	}
}

// TestInMemoryCache_GetStale_TooOld verifies that entries older than the
// stale window are removed on access.
func TestInMemoryCache_GetStale_TooOld(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := models.SolarDay{LocationID: "-100", Timestamp: time.Now().Add(-2 * time.Hour)}
	if err := c.Set(ctx, "key", val, time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, ok, err := c.GetStale(ctx, "key", time.Hour)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if ok {
		t.Error("GetStale() ok = true, want false for entry past stale window")
	}

	// Entry should now be gone entirely.
	if _, ok, _ := c.GetStale(ctx, "key", 24*time.Hour); ok {
		t.Error("entry past stale window should be deleted")
	}
}

// TestInMemoryCache_GetStale_Miss verifies GetStale on an absent key.
func TestInMemoryCache_GetStale_Miss(t *testing.T) {
	c := NewInMemoryCache()
	_, ok, err := c.GetStale(context.Background(), "absent", time.Hour)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if ok {
		t.Error("GetStale() ok = true, want false for miss")
	}
}
