// Package estimator is the service layer: it orchestrates the location,
// weather, and holiday upstreams, the solar day cache, and the tariff rules
// to produce charge cost estimates.
package estimator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/evcharge/estimator-service/internal/cache"
	"github.com/evcharge/estimator-service/internal/calendar"
	"github.com/evcharge/estimator-service/internal/client"
	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/observability"
	"github.com/evcharge/estimator-service/internal/tariff"
)

// Estimator computes charge durations and costs. Solar day retrieval is
// cache-aside with stale fallback and optional request coalescing.
type Estimator struct {
	location      client.LocationAPI
	solar         client.SolarAPI
	holidays      client.HolidayAPI
	cache         cache.Cache
	terms         *calendar.Terms
	ttl           time.Duration
	staleCacheTTL time.Duration // maximum age for stale cache fallback (0 = disabled)
	coalescer     *fetchCoalescer
	stampede      *stampedeTracker
	now           func() time.Time // injectable for reference date tests
}

// New creates an Estimator. ttl is the solar cache expiry; staleCacheTTL is
// the maximum age for stale fallback (0 disables it). coalesceEnabled and
// coalesceTimeout configure request coalescing (disabled if timeout 0).
func New(location client.LocationAPI, solar client.SolarAPI, holidays client.HolidayAPI, solarCache cache.Cache, terms *calendar.Terms, ttl, staleCacheTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *Estimator {
	var coalescer *fetchCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newFetchCoalescer(coalesceTimeout)
	}
	return &Estimator{
		location:      location,
		solar:         solar,
		holidays:      holidays,
		cache:         solarCache,
		terms:         terms,
		ttl:           ttl,
		staleCacheTTL: staleCacheTTL,
		coalescer:     coalescer,
		stampede:      newStampedeTracker(),
		now:           time.Now,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// EstimateDuration computes how long the charging session takes. Pure
// calculation, no upstream calls.
func (e *Estimator) EstimateDuration(req models.ChargeRequest) (models.Duration, error) {
	charger, err := tariff.ChargerByConfiguration(req.ChargerConfiguration)
	if err != nil {
		return models.Duration{}, err
	}
	minutes := durationMinutes(req.InitialChargePct, req.FinalChargePct, req.BatteryCapacityKWh, charger.PowerKW)
	return models.Duration{
		Minutes: minutes,
		Display: FormatDuration(minutes),
	}, nil
}

// Estimate computes the full charge cost: grid cost minus solar savings,
// floored at zero. The request must already be field-validated.
func (e *Estimator) Estimate(ctx context.Context, req models.ChargeRequest) (models.Estimate, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	charger, err := tariff.ChargerByConfiguration(req.ChargerConfiguration)
	if err != nil {
		return models.Estimate{}, err
	}

	postcode, err := strconv.Atoi(strings.TrimSpace(req.Postcode))
	if err != nil {
		return models.Estimate{}, fmt.Errorf("parse postcode: %w", err)
	}
	state, err := tariff.StateForPostcode(postcode)
	if err != nil {
		return models.Estimate{}, err
	}

	startDate, err := time.Parse(calendar.DateLayout, strings.TrimSpace(req.StartDate))
	if err != nil {
		return models.Estimate{}, fmt.Errorf("parse start date: %w", err)
	}
	startClock, err := time.Parse(calendar.TimeLayout, strings.TrimSpace(req.StartTime))
	if err != nil {
		return models.Estimate{}, fmt.Errorf("parse start time: %w", err)
	}
	startMinute := calendar.MinuteOfDay(startClock)

	locationID, err := e.location.ResolveLocationID(ctx, req.Postcode, req.Suburb)
	if err != nil {
		return models.Estimate{}, err
	}

	minutes := durationMinutes(req.InitialChargePct, req.FinalChargePct, req.BatteryCapacityKWh, charger.PowerKW)

	gridCost, err := e.gridCost(ctx, req, charger, state, startDate, startMinute, minutes)
	if err != nil {
		return models.Estimate{}, err
	}

	savings, err := e.solarSavings(ctx, charger, state, locationID, startDate, startMinute, minutes)
	if err != nil {
		return models.Estimate{}, err
	}

	est := models.Estimate{
		SolarSavingsDollars: roundTo(savings, 2),
		DurationMinutes:     minutes,
		DurationDisplay:     FormatDuration(minutes),
		State:               state,
		Timestamp:           time.Now().UTC(),
	}
	if savings >= gridCost {
		est.CostDollars = 0
		est.CostDisplay = "$0.00"
		est.Note = "energy received from solar panels was greater than energy consumed"
	} else {
		final := gridCost - savings
		if final > 1 {
			est.CostDollars = roundTo(final, 2)
			est.CostDisplay = fmt.Sprintf("$%.2f", est.CostDollars)
		} else {
			// Sub-dollar results carry extra precision so they do not read as zero.
			est.CostDollars = roundTo(final, 4)
			est.CostDisplay = fmt.Sprintf("$%.4f", est.CostDollars)
		}
	}

	observability.RecordEstimate(state, est.CostDollars, est.SolarSavingsDollars)
	if logger != nil {
		logger.Debug("estimate computed",
			zap.String("state", state),
			zap.Float64("cost_dollars", est.CostDollars),
			zap.Float64("solar_savings_dollars", est.SolarSavingsDollars),
			zap.Duration("duration", time.Since(start)))
	}
	return est, nil
}

// surchargeFactor returns the tariff multiplier for a date. Weekdays and
// school holidays surcharge without a holiday lookup; weekend days in term
// surcharge only on public holidays.
func (e *Estimator) surchargeFactor(ctx context.Context, date time.Time, state string) (float64, error) {
	if !e.terms.InSchoolTerm(state, date) || calendar.IsWeekday(date) {
		return tariff.SurchargeFactor, nil
	}
	holiday, err := e.holidays.IsHoliday(ctx, date, state)
	if err != nil {
		return 0, fmt.Errorf("holiday lookup for %s: %w", date.Format(calendar.DateLayout), err)
	}
	if holiday {
		return tariff.SurchargeFactor, nil
	}
	return 1, nil
}

// solarDay retrieves solar conditions cache-aside: cache first, upstream on
// miss, stale cache when the upstream fails.
func (e *Estimator) solarDay(ctx context.Context, locationID string, date time.Time) (models.SolarDay, error) {
	dateStr := date.Format(calendar.APIDateLayout)
	key := cache.Key(locationID, dateStr)
	logger := loggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := e.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.SolarCacheHitsTotal.Inc()
		if logger != nil {
			logger.Debug("solar cache hit", zap.String("key", key))
		}
		return cached, nil
	}

	concurrentMisses := e.stampede.RecordMiss(key)
	defer e.stampede.RecordDone(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("solar cache miss, fetching upstream", zap.String("key", key))
	}

	var data models.SolarDay
	var upstreamErr error
	if e.coalescer != nil {
		coalesceStart := time.Now()
		data, upstreamErr = e.coalescer.GetOrDo(ctx, key, func() (models.SolarDay, error) {
			return e.solar.SolarDay(ctx, locationID, dateStr)
		})
		coalesceWait := time.Since(coalesceStart)
		if upstreamErr == nil {
			// A non-trivial wait means we rode on another request's fetch.
			if coalesceWait > 10*time.Millisecond {
				observability.RequestCoalescingHitsTotal.Inc()
			}
			observability.RequestCoalescingWaitSeconds.Observe(coalesceWait.Seconds())
		}
	} else {
		data, upstreamErr = e.solar.SolarDay(ctx, locationID, dateStr)
	}
	if upstreamErr != nil {
		if e.staleCacheTTL > 0 {
			stale, ok, staleErr := e.cache.GetStale(ctx, key, e.staleCacheTTL)
			if staleErr == nil && ok {
				staleAge := time.Since(stale.Timestamp)
				observability.StaleCacheServesTotal.Inc()
				observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
				stale.Stale = true
				if logger != nil {
					logger.Info("serving stale solar data", zap.String("key", key), zap.Duration("age", staleAge))
				}
				return stale, nil
			}
		}
		return models.SolarDay{}, fmt.Errorf("fetch solar day %s: %w", key, upstreamErr)
	}

	setStart := time.Now()
	if setErr := e.cache.Set(ctx, key, data, e.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("solar cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	return data, nil
}

// PrefetchSolarDay fetches a solar day through the cached path so the cache
// warms up. Implements cache.SolarPrefetcher.
func (e *Estimator) PrefetchSolarDay(ctx context.Context, postcode, suburb string, date time.Time) error {
	locationID, err := e.location.ResolveLocationID(ctx, postcode, suburb)
	if err != nil {
		return err
	}
	_, err = e.solarDay(ctx, locationID, date)
	return err
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
