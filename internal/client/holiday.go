package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HolidayAPI answers whether a date is a public holiday in a jurisdiction.
type HolidayAPI interface {
	IsHoliday(ctx context.Context, date time.Time, state string) (bool, error)
}

// HolidayClient fetches the Australian public holiday dataset from the
// data.gov.au datastore and answers lookups from an in-process snapshot.
// The dataset changes rarely, so the snapshot is refreshed on a TTL rather
// than per request.
type HolidayClient struct {
	baseURL    string
	resourceID string
	limit      int
	ttl        time.Duration
	caller     *caller

	mu        sync.Mutex
	holidays  map[string]map[string]struct{} // yyyymmdd -> jurisdictions
	fetchedAt time.Time
}

// NewHolidayClient creates a HolidayClient. baseURL is the datastore_search
// endpoint, resourceID identifies the public holiday dataset.
func NewHolidayClient(baseURL, resourceID string, limit int, ttl time.Duration, timeout time.Duration, retry RetryPolicy) (*HolidayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("holiday API URL is required")
	}
	if resourceID == "" {
		return nil, fmt.Errorf("holiday API resource id is required")
	}
	if limit <= 0 {
		limit = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HolidayClient{
		baseURL:    baseURL,
		resourceID: resourceID,
		limit:      limit,
		ttl:        ttl,
		caller:     newCaller("holiday", timeout, retry),
	}, nil
}

// datastoreResponse is the data.gov.au datastore_search envelope.
type datastoreResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []struct {
			Date         string `json:"Date"`
			Jurisdiction string `json:"Jurisdiction"`
		} `json:"records"`
	} `json:"result"`
}

// IsHoliday reports whether date is a public holiday in the given state.
// The snapshot is refreshed when older than the TTL; a stale snapshot is
// used if the refresh fails and one exists.
func (c *HolidayClient) IsHoliday(ctx context.Context, date time.Time, state string) (bool, error) {
	set, err := c.snapshot(ctx)
	if err != nil {
		return false, err
	}
	jurisdictions, ok := set[date.Format("20060102")]
	if !ok {
		return false, nil
	}
	_, ok = jurisdictions[strings.ToLower(state)]
	return ok, nil
}

// snapshot returns the holiday set, refreshing it when expired.
func (c *HolidayClient) snapshot(ctx context.Context) (map[string]map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holidays != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.holidays, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		if c.holidays != nil {
			// Refresh failed; keep answering from the previous snapshot.
			return c.holidays, nil
		}
		return nil, err
	}
	c.holidays = fresh
	c.fetchedAt = time.Now()
	return c.holidays, nil
}

func (c *HolidayClient) fetch(ctx context.Context) (map[string]map[string]struct{}, error) {
	u := c.baseURL + "?resource_id=" + url.QueryEscape(c.resourceID) + "&limit=" + strconv.Itoa(c.limit)
	var resp datastoreResponse
	if err := c.caller.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch public holidays: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: datastore_search unsuccessful", ErrUpstreamFailure)
	}

	set := make(map[string]map[string]struct{})
	for _, rec := range resp.Result.Records {
		if rec.Date == "" || rec.Jurisdiction == "" {
			continue
		}
		day := set[rec.Date]
		if day == nil {
			day = make(map[string]struct{})
			set[rec.Date] = day
		}
		day[strings.ToLower(rec.Jurisdiction)] = struct{}{}
	}
	return set, nil
}

// Refresh forces a snapshot refresh regardless of TTL. Used by cache warming.
func (c *HolidayClient) Refresh(ctx context.Context) error {
	fresh, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.holidays = fresh
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

var (
	_ HolidayAPI  = (*HolidayClient)(nil)
	_ LocationAPI = (*LocationClient)(nil)
	_ SolarAPI    = (*SolarClient)(nil)
)
