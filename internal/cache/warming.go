package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evcharge/estimator-service/internal/observability"
)

// SolarPrefetcher is implemented by the estimator to fetch a solar day
// through its cached path. Used by Warmer to avoid a circular dependency on
// the estimator package.
type SolarPrefetcher interface {
	PrefetchSolarDay(ctx context.Context, postcode, suburb string, date time.Time) error
}

// Warmer prefetches solar data for a list of tracked "postcode/suburb" pairs
// so the first estimate of the day does not pay the upstream latency.
type Warmer struct {
	fetcher SolarPrefetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher SolarPrefetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm prefetches today's solar day for each tracked pair concurrently.
// Returns an error if any pair failed (aggregated).
func (w *Warmer) Warm(ctx context.Context, tracked []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming solar cache", zap.Int("locations", len(tracked)))
	}

	today := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, pair := range tracked {
		pair := pair
		g.Go(func() error {
			postcode, suburb, err := splitTracked(pair)
			if err != nil {
				return err
			}
			if err := w.fetcher.PrefetchSolarDay(gctx, postcode, suburb, today); err != nil {
				return fmt.Errorf("warm %s: %w", pair, err)
			}
			return nil
		})
	}
	err := g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("solar cache warming complete", zap.Int("locations", len(tracked)), zap.Bool("failed", err != nil), zap.Float64("duration_seconds", duration))
	}
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", err)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, tracked []string, interval time.Duration) error {
	if err := w.Warm(ctx, tracked); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, tracked); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

// splitTracked parses a "postcode/suburb" pair from config.
func splitTracked(pair string) (postcode, suburb string, err error) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("tracked location %q: want postcode/suburb", pair)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}
