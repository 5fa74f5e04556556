package estimator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
)

// TestFetchCoalescer_SingleFlight verifies that concurrent callers for the
// same key share one upstream fetch.
func TestFetchCoalescer_SingleFlight(t *testing.T) {
	fc := newFetchCoalescer(5 * time.Second)

	var calls int32
	release := make(chan struct{})
	fn := func() (models.SolarDay, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return models.SolarDay{LocationID: "-100"}, nil
	}

	const waiters = 5
	var wg sync.WaitGroup
	results := make([]models.SolarDay, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fc.GetOrDo(context.Background(), "key", fn)
		}(i)
	}

	// Let all goroutines register before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Errorf("waiter %d error = %v", i, errs[i])
		}
		if results[i].LocationID != "-100" {
			t.Errorf("waiter %d result = %+v", i, results[i])
		}
	}
}

// TestFetchCoalescer_DifferentKeys verifies that fetches for different keys
// are not coalesced.
func TestFetchCoalescer_DifferentKeys(t *testing.T) {
	fc := newFetchCoalescer(5 * time.Second)

	var calls int32
	fn := func() (models.SolarDay, error) {
		atomic.AddInt32(&calls, 1)
		return models.SolarDay{}, nil
	}

	if _, err := fc.GetOrDo(context.Background(), "a", fn); err != nil {
		t.Fatalf("GetOrDo(a) error = %v", err)
	}
	if _, err := fc.GetOrDo(context.Background(), "b", fn); err != nil {
		t.Fatalf("GetOrDo(b) error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

// TestFetchCoalescer_ErrorShared verifies that a failed fetch propagates the
// error to every coalesced waiter.
func TestFetchCoalescer_ErrorShared(t *testing.T) {
	fc := newFetchCoalescer(5 * time.Second)
	wantErr := errors.New("upstream down")

	release := make(chan struct{})
	fn := func() (models.SolarDay, error) {
		<-release
		return models.SolarDay{}, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fc.GetOrDo(context.Background(), "key", fn)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("waiter %d error = %v, want %v", i, err, wantErr)
		}
	}
}

// TestFetchCoalescer_ContextCancelled verifies that a waiter stops waiting
// when its context is cancelled.
func TestFetchCoalescer_ContextCancelled(t *testing.T) {
	fc := newFetchCoalescer(5 * time.Second)

	release := make(chan struct{})
	defer close(release)
	fn := func() (models.SolarDay, error) {
		<-release
		return models.SolarDay{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fc.GetOrDo(ctx, "key", fn)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("GetOrDo() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetOrDo() did not return after context cancellation")
	}
}

// TestFetchCoalescer_Timeout verifies that the coalescer timeout bounds the
// wait for a slow fetch.
func TestFetchCoalescer_Timeout(t *testing.T) {
	fc := newFetchCoalescer(50 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	fn := func() (models.SolarDay, error) {
		<-release
		return models.SolarDay{}, nil
	}

	_, err := fc.GetOrDo(context.Background(), "key", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrDo() error = %v, want context.DeadlineExceeded", err)
	}
}
