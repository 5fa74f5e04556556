package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
)

// LocationAPI resolves postcodes to suburbs and weather location ids.
type LocationAPI interface {
	Suburbs(ctx context.Context, postcode string) ([]models.Suburb, error)
	ResolveLocationID(ctx context.Context, postcode, suburb string) (string, error)
	Ping(ctx context.Context) error
}

// LocationClient calls the location API: GET {base}?postcode={postcode}.
// A valid postcode returns an array of suburb records; an unknown one
// returns an object carrying a statusCode field instead.
type LocationClient struct {
	baseURL string
	caller  *caller
}

// NewLocationClient creates a LocationClient. baseURL is the full endpoint
// without the postcode query parameter.
func NewLocationClient(baseURL string, timeout time.Duration, retry RetryPolicy) (*LocationClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("location API URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid location API URL: %w", err)
	}
	return &LocationClient{
		baseURL: baseURL,
		caller:  newCaller("location", timeout, retry),
	}, nil
}

// locationResponse accepts both response shapes of the location API.
// records is populated for valid postcodes, statusCode for unknown ones.
type locationResponse struct {
	records    []models.Suburb
	statusCode int
}

func (r *locationResponse) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &r.records)
	}
	var status struct {
		StatusCode int `json:"statusCode"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return err
	}
	r.statusCode = status.StatusCode
	return nil
}

// Suburbs returns all suburb records for a postcode.
func (c *LocationClient) Suburbs(ctx context.Context, postcode string) ([]models.Suburb, error) {
	u := c.baseURL + "?postcode=" + url.QueryEscape(postcode)
	var resp locationResponse
	if err := c.caller.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch suburbs for %s: %w", postcode, err)
	}
	if resp.statusCode != 0 || len(resp.records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPostcodeNotFound, postcode)
	}
	return resp.records, nil
}

// ResolveLocationID returns the weather location id for a suburb within a
// postcode. Suburb comparison is case-insensitive; the API stores names in
// upper case.
func (c *LocationClient) ResolveLocationID(ctx context.Context, postcode, suburb string) (string, error) {
	suburbs, err := c.Suburbs(ctx, postcode)
	if err != nil {
		return "", err
	}
	want := strings.ToUpper(strings.TrimSpace(suburb))
	for _, s := range suburbs {
		if strings.ToUpper(s.Name) == want {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrSuburbNotFound, suburb, postcode)
}

// Ping checks upstream reachability with a known-good postcode.
// Used by the health handler.
func (c *LocationClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.Suburbs(ctx, "3000"); err != nil {
		return fmt.Errorf("location API unreachable: %w", err)
	}
	return nil
}
