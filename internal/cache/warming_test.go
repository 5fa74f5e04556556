package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockPrefetcher struct {
	mu      sync.Mutex
	fetched []string
	err     error
}

func (m *mockPrefetcher) PrefetchSolarDay(ctx context.Context, postcode, suburb string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.fetched = append(m.fetched, postcode+"/"+suburb)
	return nil
}

func TestWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockPrefetcher{}
	warmer := NewWarmer(fetcher, nil)

	err := warmer.Warm(context.Background(), []string{"3000/Melbourne", "2000/Sydney"})
	if err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.fetched) != 2 {
		t.Errorf("prefetched %d locations, want 2", len(fetcher.fetched))
	}
}

func TestWarmer_Warm_EmptyLocations(t *testing.T) {
	warmer := NewWarmer(&mockPrefetcher{}, nil)
	ctx := context.Background()

	if err := warmer.Warm(ctx, nil); err != nil {
		t.Fatalf("Warm() with nil locations error = %v, want nil", err)
	}
	if err := warmer.Warm(ctx, []string{}); err != nil {
		t.Fatalf("Warm() with empty locations error = %v, want nil", err)
	}
}

func TestWarmer_Warm_FetcherError(t *testing.T) {
	fetcher := &mockPrefetcher{err: errors.New("api down")}
	warmer := NewWarmer(fetcher, nil)

	err := warmer.Warm(context.Background(), []string{"3000/Melbourne"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
}

func TestWarmer_Warm_MalformedPair(t *testing.T) {
	warmer := NewWarmer(&mockPrefetcher{}, nil)

	err := warmer.Warm(context.Background(), []string{"Melbourne"})
	if err == nil {
		t.Fatal("Warm() error = nil, want error for malformed pair")
	}
}

func TestSplitTracked(t *testing.T) {
	tests := []struct {
		in           string
		postcode     string
		suburb       string
		wantErr      bool
	}{
		{"3000/Melbourne", "3000", "Melbourne", false},
		{" 3000 / Melbourne ", "3000", "Melbourne", false},
		{"3000/St Kilda", "3000", "St Kilda", false},
		{"3000", "", "", true},
		{"/Melbourne", "", "", true},
		{"3000/", "", "", true},
	}
	for _, tc := range tests {
		postcode, suburb, err := splitTracked(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitTracked(%q) error = nil, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitTracked(%q) error = %v", tc.in, err)
			continue
		}
		if postcode != tc.postcode || suburb != tc.suburb {
			t.Errorf("splitTracked(%q) = %q, %q, want %q, %q", tc.in, postcode, suburb, tc.postcode, tc.suburb)
		}
	}
}
