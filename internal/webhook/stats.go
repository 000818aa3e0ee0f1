package webhook

import (
	"sync"
	"time"
)

// Outcome labels an event counted by Stats.
type Outcome string

const (
	OutcomeReceived Outcome = "received"
	OutcomeRejected Outcome = "rejected"
	OutcomeDone     Outcome = "done"
	OutcomeRetried  Outcome = "retried"
	OutcomeDead     Outcome = "dead"
)

// statsBucketWidth is the resolution of Stats. Windows are answered to the minute.
const statsBucketWidth = time.Minute

var outcomeIndex = map[Outcome]int{
	OutcomeReceived: 0,
	OutcomeRejected: 1,
	OutcomeDone:     2,
	OutcomeRetried:  3,
	OutcomeDead:     4,
}

// statsBucket holds the per-outcome counts for one minute.
type statsBucket struct {
	start  time.Time
	counts [5]int
}

// WindowStats aggregates outcomes over a trailing window.
type WindowStats struct {
	Window       string    `json:"window"`
	Since        time.Time `json:"since"`
	Received     int       `json:"received"`
	Rejected     int       `json:"rejected"`
	Succeeded    int       `json:"succeeded"`
	Retried      int       `json:"retried"`
	DeadLettered int       `json:"dead_lettered"`
	Errors       int       `json:"errors"`
	SuccessRate  float64   `json:"success_rate"`
}

// Stats keeps per-minute outcome counts for the retention period.
type Stats struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	buckets   []statsBucket
}

// NewStats keeps events for retention.
func NewStats(retention time.Duration) *Stats {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Stats{retention: retention, now: time.Now}
}

// Retention returns the longest window Stats can answer.
func (s *Stats) Retention() time.Duration { return s.retention }

// Record counts n occurrences of outcome now.
func (s *Stats) Record(outcome Outcome, n int) {
	idx, known := outcomeIndex[outcome]
	if n <= 0 || !known {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	start := now.Truncate(statsBucketWidth)
	if last := len(s.buckets) - 1; last >= 0 && s.buckets[last].start.Equal(start) {
		s.buckets[last].counts[idx] += n
	} else {
		s.buckets = append(s.buckets, statsBucket{start: start})
		s.buckets[last+1].counts[idx] = n
	}
	s.pruneLocked(now)
}

// pruneLocked drops buckets that ended before the retention cutoff.
func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	drop := 0
	for drop < len(s.buckets) && !s.buckets[drop].start.Add(statsBucketWidth).After(cutoff) {
		drop++
	}
	if drop > 0 {
		s.buckets = s.buckets[drop:]
	}
}

// Window aggregates events newer than now-window. The window is capped at the retention.
func (s *Stats) Window(window time.Duration) WindowStats {
	if window <= 0 || window > s.retention {
		window = s.retention
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	since := now.Add(-window)
	out := WindowStats{Window: window.String(), Since: since}
	for _, b := range s.buckets {
		if !b.start.Add(statsBucketWidth).After(since) {
			continue
		}
		out.Received += b.counts[outcomeIndex[OutcomeReceived]]
		out.Rejected += b.counts[outcomeIndex[OutcomeRejected]]
		out.Succeeded += b.counts[outcomeIndex[OutcomeDone]]
		out.Retried += b.counts[outcomeIndex[OutcomeRetried]]
		out.DeadLettered += b.counts[outcomeIndex[OutcomeDead]]
	}
	out.Errors = out.Retried + out.DeadLettered
	if finished := out.Succeeded + out.DeadLettered; finished > 0 {
		out.SuccessRate = float64(out.Succeeded) / float64(finished)
	}
	return out
}
