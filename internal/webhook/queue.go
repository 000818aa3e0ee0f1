package webhook

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/wearsync/internal/metrics"
)

// FailOutcome describes what Fail did with an item.
type FailOutcome struct {
	Item  Item
	Dead  bool
	Delay time.Duration
}

// QueueStats is a point-in-time view of the active set.
type QueueStats struct {
	Pending    int `json:"pending"`
	Scheduled  int `json:"scheduled"`
	Processing int `json:"processing"`
	Active     int `json:"active"`
}

// Queue holds active items. Pending items wait in a FIFO; failed items are parked with a
// timer and re-inserted when their backoff elapses, so no goroutine blocks meanwhile.
type Queue struct {
	mu          sync.Mutex
	items       map[string]*Item
	ready       []string
	timers      map[string]*time.Timer
	maxAttempts int
	backoffUnit time.Duration
	now         func() time.Time
	wake        chan struct{}
	closed      bool
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithBackoffUnit scales the 2^attempts backoff. The default unit is one second.
func WithBackoffUnit(unit time.Duration) QueueOption {
	return func(q *Queue) {
		if unit > 0 {
			q.backoffUnit = unit
		}
	}
}

// NewQueue creates an empty queue whose items get maxAttempts attempts.
func NewQueue(maxAttempts int, opts ...QueueOption) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	q := &Queue{
		items:       make(map[string]*Item),
		timers:      make(map[string]*time.Timer),
		maxAttempts: maxAttempts,
		backoffUnit: time.Second,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetMaxAttempts changes the ceiling for items enqueued afterwards.
func (q *Queue) SetMaxAttempts(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.maxAttempts = n
	q.mu.Unlock()
}

// Wake is signalled whenever an item becomes pending.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Enqueue normalizes raw into items and appends them as pending.
func (q *Queue) Enqueue(raw []byte, headers http.Header) ([]Item, error) {
	events, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	snapshot := headerSnapshot(headers)

	q.mu.Lock()
	now := q.now()
	out := make([]Item, 0, len(events))
	for _, ev := range events {
		item := &Item{
			ID:              uuid.NewString(),
			Payload:         ev.payload,
			Source:          ev.source,
			ReceivedHeaders: snapshot,
			ReceivedAt:      now,
			MaxAttempts:     q.maxAttempts,
			Status:          StatusPending,
		}
		q.items[item.ID] = item
		q.ready = append(q.ready, item.ID)
		out = append(out, *item)
	}
	q.publishLocked()
	q.mu.Unlock()

	metrics.ItemsEnqueued(len(out))
	if len(out) > 0 {
		q.signal()
	}
	return out, nil
}

// Claim pops the oldest pending item and marks it processing.
func (q *Queue) Claim() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		item, ok := q.items[id]
		if !ok || item.Status != StatusPending {
			continue
		}
		item.Status = StatusProcessing
		item.NextAttemptAt = time.Time{}
		q.publishLocked()
		return *item, true
	}
	return Item{}, false
}

// Complete marks the item done and drops it from the active set.
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
	q.publishLocked()
}

// Fail records a failed attempt. Below the ceiling the item is rescheduled after
// 2^attempts backoff units; at the ceiling it is marked dead and removed.
func (q *Queue) Fail(id string, cause error) (FailOutcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return FailOutcome{}, false
	}
	item.Attempts++
	if cause != nil {
		item.LastError = cause.Error()
	}
	if item.Attempts >= item.MaxAttempts {
		item.Status = StatusDead
		q.removeLocked(id)
		q.publishLocked()
		return FailOutcome{Item: *item, Dead: true}, true
	}

	delay := q.backoff(item.Attempts)
	item.Status = StatusPending
	item.NextAttemptAt = q.now().Add(delay)
	if timer, parked := q.timers[id]; parked {
		timer.Stop()
	}
	if !q.closed {
		q.timers[id] = time.AfterFunc(delay, func() { q.release(id) })
	}
	q.publishLocked()
	return FailOutcome{Item: *item, Delay: delay}, true
}

// Kill dead-letters an item immediately, without consuming further attempts.
func (q *Queue) Kill(id string, cause error) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	item.Attempts++
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.Status = StatusDead
	q.removeLocked(id)
	q.publishLocked()
	return *item, true
}

func (q *Queue) backoff(attempts int) time.Duration {
	if attempts > 20 {
		attempts = 20
	}
	return time.Duration(1<<uint(attempts)) * q.backoffUnit
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	item, ok := q.items[id]
	if q.closed || !ok || item.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	q.ready = append(q.ready, id)
	q.publishLocked()
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) removeLocked(id string) {
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	delete(q.items, id)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stats counts active items by status. Pending items still in backoff are Scheduled.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() QueueStats {
	var stats QueueStats
	for id, item := range q.items {
		switch item.Status {
		case StatusProcessing:
			stats.Processing++
		case StatusPending:
			if _, parked := q.timers[id]; parked {
				stats.Scheduled++
			} else {
				stats.Pending++
			}
		}
	}
	stats.Active = len(q.items)
	return stats
}

func (q *Queue) publishLocked() {
	stats := q.statsLocked()
	metrics.SetQueueDepth(map[string]int{
		"pending":    stats.Pending,
		"scheduled":  stats.Scheduled,
		"processing": stats.Processing,
	})
}

// Get returns a copy of an active item.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Len returns the number of active items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops backoff timers. Items stay in the active set for Snapshot.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
}

// Snapshot copies every active item, including those in backoff or in flight.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// Restore re-adds spooled items as pending with their attempt counts preserved.
// Dead or done items are ignored. It returns how many items were restored.
func (q *Queue) Restore(items []Item) int {
	q.mu.Lock()
	restored := 0
	for i := range items {
		item := items[i]
		if item.ID == "" || item.Status == StatusDead || item.Status == StatusDone {
			continue
		}
		if _, exists := q.items[item.ID]; exists {
			continue
		}
		if item.MaxAttempts <= 0 {
			item.MaxAttempts = q.maxAttempts
		}
		item.Status = StatusPending
		item.NextAttemptAt = time.Time{}
		q.items[item.ID] = &item
		q.ready = append(q.ready, item.ID)
		restored++
	}
	q.publishLocked()
	q.mu.Unlock()
	if restored > 0 {
		q.signal()
	}
	return restored
}
