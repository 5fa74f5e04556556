package estimator

import (
	"context"
	"sync"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
)

// inFlightFetch tracks a single upstream solar fetch that multiple callers may wait for.
type inFlightFetch struct {
	mu      sync.Mutex
	result  models.SolarDay
	err     error
	done    bool
	waiters []chan struct{}
}

// fetchCoalescer prevents cache stampede by coalescing concurrent solar day
// fetches for the same key into one upstream call.
type fetchCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newFetchCoalescer(timeout time.Duration) *fetchCoalescer {
	return &fetchCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// GetOrDo checks if a fetch for key is already in-flight. If yes, waits for
// its result. If no, executes fn and registers the fetch. Respects context
// cancellation and the coalescer timeout to prevent indefinite blocking.
func (fc *fetchCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.SolarDay, error)) (models.SolarDay, error) {
	fc.mu.Lock()
	req, exists := fc.inFlight[key]
	if exists {
		fc.mu.Unlock()
		return fc.wait(ctx, req)
	}

	req = &inFlightFetch{}
	fc.inFlight[key] = req
	fc.mu.Unlock()

	go func() {
		result, err := fn()

		req.mu.Lock()
		req.result = result
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		fc.mu.Lock()
		delete(fc.inFlight, key)
		fc.mu.Unlock()
	}()

	return fc.wait(ctx, req)
}

// wait blocks until the fetch completes, the context is done, or the
// coalescer timeout elapses.
func (fc *fetchCoalescer) wait(ctx context.Context, req *inFlightFetch) (models.SolarDay, error) {
	req.mu.Lock()
	if req.done {
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, err
	}
	notify := make(chan struct{})
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		return models.SolarDay{}, waitCtx.Err()
	}
}
