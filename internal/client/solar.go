package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/evcharge/estimator-service/internal/circuitbreaker"
	"github.com/evcharge/estimator-service/internal/models"
)

// SolarAPI fetches solar conditions for a location and date.
type SolarAPI interface {
	SolarDay(ctx context.Context, locationID, date string) (models.SolarDay, error)
}

// SolarClient calls the weather API:
// GET {base}?location={id}&date={YYYY-MM-DD}.
type SolarClient struct {
	baseURL string
	caller  *caller
	breaker *circuitbreaker.CircuitBreaker
}

// NewSolarClient creates a SolarClient. baseURL is the full endpoint without
// query parameters.
func NewSolarClient(baseURL string, timeout time.Duration, retry RetryPolicy) (*SolarClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("weather API URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid weather API URL: %w", err)
	}
	return &SolarClient{
		baseURL: baseURL,
		caller:  newCaller("weather", timeout, retry),
	}, nil
}

// SetCircuitBreaker wires a breaker around upstream calls. Optional.
func (c *SolarClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// solarDayResponse is the wire shape of the weather API response.
type solarDayResponse struct {
	Sunrise  string                 `json:"sunrise"`
	Sunset   string                 `json:"sunset"`
	SunHours float64                `json:"sunHours"`
	Hourly   []models.HourlyWeather `json:"hourlyWeatherHistory"`
}

// SolarDay fetches solar conditions for a location id and a date in
// YYYY-MM-DD form.
func (c *SolarClient) SolarDay(ctx context.Context, locationID, date string) (models.SolarDay, error) {
	u := c.baseURL + "?location=" + url.QueryEscape(locationID) + "&date=" + url.QueryEscape(date)

	var resp solarDayResponse
	fetch := func() error {
		return c.caller.getJSON(ctx, u, &resp)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		return models.SolarDay{}, fmt.Errorf("fetch solar day %s/%s: %w", locationID, date, err)
	}

	return models.SolarDay{
		LocationID: locationID,
		Date:       date,
		Sunrise:    resp.Sunrise,
		Sunset:     resp.Sunset,
		SunHours:   resp.SunHours,
		Hourly:     resp.Hourly,
		Timestamp:  time.Now(),
	}, nil
}
