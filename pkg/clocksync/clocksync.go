// Package clocksync estimates the offset between the local clock and the
// server's reference clock, so countdowns agree across devices whose own
// clocks disagree.
package clocksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrSyncFailure means no round trip succeeded; the offset falls back to 0.
var ErrSyncFailure = errors.New("clock sync failed")

// TimeSource reports the reference time.
type TimeSource interface {
	ReferenceTime(ctx context.Context) (time.Time, error)
}

// Syncer measures the offset Δ such that reference ≈ local + Δ.
type Syncer struct {
	Source   TimeSource
	Samples  int
	Gap      time.Duration
	Timeout  time.Duration
	Interval time.Duration

	// Now is the local clock; tests replace it.
	Now func() time.Time

	mu     sync.RWMutex
	offset time.Duration
}

func New(source TimeSource) *Syncer {
	return &Syncer{
		Source:   source,
		Samples:  3,
		Gap:      50 * time.Millisecond,
		Timeout:  2 * time.Second,
		Interval: 15 * time.Second,
		Now:      time.Now,
	}
}

// Offset returns the last measured offset.
func (s *Syncer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// sample runs one round trip and returns server − (start + rtt/2).
func (s *Syncer) sample(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	start := s.Now()
	ref, err := s.Source.ReferenceTime(ctx)
	if err != nil {
		return 0, err
	}
	end := s.Now()
	rtt := end.Sub(start)
	return ref.Sub(start.Add(rtt / 2)), nil
}

// MeasureOffset takes the configured number of samples and returns their
// median, which ignores a single slow round trip. If every sample fails it
// returns 0 and ErrSyncFailure, and the previous offset is kept.
func (s *Syncer) MeasureOffset(ctx context.Context) (time.Duration, error) {
	n := s.Samples
	if n <= 0 {
		n = 1
	}

	deltas := make([]time.Duration, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		if i > 0 && s.Gap > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.Gap):
			}
		}
		d, err := s.sample(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		deltas = append(deltas, d)
	}

	if len(deltas) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrSyncFailure, lastErr)
	}

	offset := Median(deltas)
	s.mu.Lock()
	s.offset = offset
	s.mu.Unlock()
	return offset, nil
}

// Median of ds; an even count averages the two middle values.
func Median(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Run measures at start, then every Interval and on each resync request,
// until ctx ends. onSync, if set, receives every measurement.
func (s *Syncer) Run(ctx context.Context, resync <-chan struct{}, onSync func(time.Duration, error)) {
	measure := func() {
		offset, err := s.MeasureOffset(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("Clock sync: %v", err)
		}
		if onSync != nil && ctx.Err() == nil {
			onSync(offset, err)
		}
	}

	measure()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			measure()
		case <-resync:
			measure()
		}
	}
}

// HTTPTimeSource reads GET <BaseURL>/api/time.
type HTTPTimeSource struct {
	BaseURL string
	Client  *http.Client
}

func (h *HTTPTimeSource) ReferenceTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(h.BaseURL, "/")+"/api/time", nil)
	if err != nil {
		return time.Time{}, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("reference time: status %d", resp.StatusCode)
	}

	var body struct {
		NowMs int64 `json:"now_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("reference time: %w", err)
	}
	return time.Unix(0, body.NowMs*int64(time.Millisecond)), nil
}
