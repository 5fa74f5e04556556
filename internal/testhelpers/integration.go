//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/evcharge/estimator-service/internal/cache"
	"github.com/evcharge/estimator-service/internal/calendar"
	"github.com/evcharge/estimator-service/internal/client"
	"github.com/evcharge/estimator-service/internal/estimator"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	LocationAPIURL    string
	WeatherAPIURL     string
	HolidayAPIURL     string
	HolidayResourceID string
	CacheBackend      string // "in_memory" or "memcached"
	MemcachedAddr     string
	TermDatesPath     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if LOCATION_API_URL is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	locationURL := os.Getenv("LOCATION_API_URL")
	if locationURL == "" {
		t.Skip("LOCATION_API_URL not set, skipping integration test")
	}

	weatherURL := os.Getenv("WEATHER_API_URL")
	if weatherURL == "" {
		weatherURL = "http://118.138.246.158/api/v1/weather"
	}
	holidayURL := os.Getenv("HOLIDAY_API_URL")
	if holidayURL == "" {
		holidayURL = "https://data.gov.au/data/api/3/action/datastore_search"
	}
	resourceID := os.Getenv("HOLIDAY_RESOURCE_ID")
	if resourceID == "" {
		resourceID = "33673aca-0857-42e5-b8f0-9981b4755686"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	termDates := os.Getenv("TERM_DATES_PATH")
	if termDates == "" {
		termDates = "../../data/termdates.json"
	}

	return IntegrationTestConfig{
		LocationAPIURL:    locationURL,
		WeatherAPIURL:     weatherURL,
		HolidayAPIURL:     holidayURL,
		HolidayResourceID: resourceID,
		CacheBackend:      os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr:     memcachedAddr,
		TermDatesPath:     termDates,
	}
}

// SetupIntegrationEstimator creates a fully configured estimator for integration
// tests. Returns the estimator, the cache instance, and a cleanup function.
func SetupIntegrationEstimator(t *testing.T, cfg IntegrationTestConfig) (*estimator.Estimator, cache.Cache, func()) {
	retry := client.DefaultRetryPolicy()

	locationClient, err := client.NewLocationClient(cfg.LocationAPIURL, 5*time.Second, retry)
	if err != nil {
		t.Fatalf("NewLocationClient() error = %v", err)
	}
	solarClient, err := client.NewSolarClient(cfg.WeatherAPIURL, 5*time.Second, retry)
	if err != nil {
		t.Fatalf("NewSolarClient() error = %v", err)
	}
	holidayClient, err := client.NewHolidayClient(cfg.HolidayAPIURL, cfg.HolidayResourceID, 1000, 24*time.Hour, 5*time.Second, retry)
	if err != nil {
		t.Fatalf("NewHolidayClient() error = %v", err)
	}

	terms, err := calendar.LoadTerms(cfg.TermDatesPath)
	if err != nil {
		t.Fatalf("LoadTerms() error = %v", err)
	}

	var solarCache cache.Cache
	var cleanup func()

	if cfg.CacheBackend == "memcached" {
		memcachedCache, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, 24*time.Hour)
		if err == nil {
			solarCache = memcachedCache
			cleanup = func() { memcachedCache.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			solarCache = cache.NewInMemoryCache()
			cleanup = func() {}
		}
	} else {
		solarCache = cache.NewInMemoryCache()
		cleanup = func() {}
	}

	est := estimator.New(locationClient, solarClient, holidayClient, solarCache, terms, 5*time.Minute, 24*time.Hour, true, 5*time.Second)
	return est, solarCache, cleanup
}

// SetupIntegrationLocationClient creates a location client for integration tests.
func SetupIntegrationLocationClient(t *testing.T, cfg IntegrationTestConfig) client.LocationAPI {
	c, err := client.NewLocationClient(cfg.LocationAPIURL, 5*time.Second, client.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewLocationClient() error = %v", err)
	}
	return c
}
