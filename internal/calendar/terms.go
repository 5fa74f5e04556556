package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// termRange is one school term, start and end inclusive.
type termRange struct {
	start time.Time
	end   time.Time
}

// Terms holds school term dates per state, loaded from a JSON data file.
// Term dates are assumed to repeat each year, so lookups compare the month
// and day of the queried date against each term range.
type Terms struct {
	mu      sync.RWMutex
	path    string
	byState map[string][]termRange
}

// termsFile mirrors data/termdates.json.
type termsFile struct {
	Data []struct {
		State string      `json:"state"`
		Dates [][2]string `json:"dates"`
	} `json:"data"`
}

// LoadTerms reads term dates from the JSON file at path.
func LoadTerms(path string) (*Terms, error) {
	t := &Terms{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the data file. On parse errors the previous data is kept.
func (t *Terms) Reload() error {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read term dates: %w", err)
	}
	var tf termsFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("parse term dates: %w", err)
	}
	byState := make(map[string][]termRange, len(tf.Data))
	for _, entry := range tf.Data {
		for _, pair := range entry.Dates {
			start, err := time.Parse(DateLayout, pair[0])
			if err != nil {
				return fmt.Errorf("parse term start %q: %w", pair[0], err)
			}
			end, err := time.Parse(DateLayout, pair[1])
			if err != nil {
				return fmt.Errorf("parse term end %q: %w", pair[1], err)
			}
			byState[entry.State] = append(byState[entry.State], termRange{start: start, end: end})
		}
	}
	t.mu.Lock()
	t.byState = byState
	t.mu.Unlock()
	return nil
}

// InSchoolTerm reports whether the date falls inside a school term for the
// state. The queried year is normalized onto each term's year so the ranges
// apply to every year. Dates outside all terms are school holidays.
func (t *Terms) InSchoolTerm(state string, date time.Time) bool {
	t.mu.RLock()
	ranges := t.byState[state]
	t.mu.RUnlock()
	for _, r := range ranges {
		d := time.Date(r.start.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		if !d.Before(r.start) && !d.After(r.end) {
			return true
		}
	}
	return false
}

// Watch reloads the data file when it changes, until ctx is done.
// Watches the parent directory because editors replace files on save.
func (t *Terms) Watch(ctx context.Context, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("term dates watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}
	target := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := t.Reload(); err != nil {
				if logger != nil {
					logger.Warn("term dates reload failed", zap.Error(err))
				}
				continue
			}
			if logger != nil {
				logger.Info("term dates reloaded", zap.String("path", t.path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Warn("term dates watcher error", zap.Error(err))
			}
		}
	}
}
