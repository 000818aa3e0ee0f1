package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/wearsync/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ItemHandler applies one queue item. Handlers must be idempotent: an item may be
// delivered more than once.
type ItemHandler interface {
	HandleItem(ctx context.Context, item Item) error
}

// ItemDescriber labels items in dead letters and logs.
type ItemDescriber interface {
	Describe(item Item) (kind, userID string)
}

// permanent is implemented by handler errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err asks for immediate dead-lettering.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// Processor drains the queue in the background.
type Processor struct {
	queue       *Queue
	handler     ItemHandler
	deadLetters DeadLetterSink
	stats       *Stats
	interval    time.Duration
	workers     int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Interval    time.Duration
	Workers     int
	DeadLetters DeadLetterSink
	Stats       *Stats
}

// NewProcessor creates a processor for q.
func NewProcessor(q *Queue, handler ItemHandler, opts ProcessorOptions) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Stats == nil {
		opts.Stats = NewStats(0)
	}
	return &Processor{
		queue:       q,
		handler:     handler,
		deadLetters: opts.DeadLetters,
		stats:       opts.Stats,
		interval:    opts.Interval,
		workers:     opts.Workers,
	}
}

// Stats returns the outcome tracker.
func (p *Processor) Stats() *Stats { return p.stats }

// Running reports whether the loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the loop. Calling Start on a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.run(loopCtx, p.done)
}

// Stop cancels the loop and waits for in-flight handlers to return. Items whose handler
// was interrupted stay processing and are recovered as pending by the spool.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Debugf("webhook: processor started (interval %s, workers %d)", p.interval, p.workers)
	for {
		select {
		case <-ctx.Done():
			log.Debug("webhook: processor stopped")
			return
		case <-ticker.C:
		case <-p.queue.Wake():
		}
		for ctx.Err() == nil {
			if p.ProcessOnce(ctx) == 0 {
				break
			}
		}
	}
}

// ProcessOnce claims up to Workers pending items and handles them concurrently.
// It returns how many items were claimed.
func (p *Processor) ProcessOnce(ctx context.Context) int {
	var claimed []Item
	for len(claimed) < p.workers {
		item, ok := p.queue.Claim()
		if !ok {
			break
		}
		claimed = append(claimed, item)
	}
	if len(claimed) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, item := range claimed {
		g.Go(func() error {
			p.process(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed)
}

func (p *Processor) process(ctx context.Context, item Item) {
	kind, userID := p.describe(item)
	entry := log.WithFields(log.Fields{"item_id": item.ID, "kind": kind})
	if userID != "" {
		entry = entry.WithField("user_id", userID)
	}

	err := p.safeHandle(ctx, item)
	if err == nil {
		p.queue.Complete(item.ID)
		p.stats.Record(OutcomeDone, 1)
		metrics.ItemOutcome(string(OutcomeDone))
		return
	}
	if ctx.Err() != nil {
		entry.WithError(err).Debug("webhook: handler interrupted by shutdown, item left for recovery")
		return
	}

	if IsPermanent(err) {
		dead, ok := p.queue.Kill(item.ID, err)
		if ok {
			p.deadLetter(ctx, entry, dead, kind, userID, true)
		}
		return
	}

	outcome, ok := p.queue.Fail(item.ID, err)
	if !ok {
		return
	}
	if outcome.Dead {
		p.deadLetter(ctx, entry, outcome.Item, kind, userID, false)
		return
	}
	p.stats.Record(OutcomeRetried, 1)
	metrics.ItemOutcome(string(OutcomeRetried))
	entry.WithFields(log.Fields{
		"attempts": outcome.Item.Attempts,
		"delay":    outcome.Delay,
		"error":    err,
	}).Warn("webhook: item failed, rescheduled")
}

func (p *Processor) deadLetter(ctx context.Context, entry *log.Entry, item Item, kind, userID string, unprocessable bool) {
	p.stats.Record(OutcomeDead, 1)
	metrics.ItemOutcome(string(OutcomeDead))
	entry.WithFields(log.Fields{
		"attempts": item.Attempts,
		"error":    item.LastError,
	}).Error("webhook: item dead-lettered")

	if p.deadLetters == nil {
		return
	}
	letter := NewDeadLetter(item, unprocessable)
	letter.Kind = kind
	letter.UserID = userID
	// the dead letter must be written even when the loop is stopping
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.deadLetters.WriteDeadLetter(writeCtx, letter); err != nil {
		entry.WithError(err).Error("webhook: failed to record dead letter")
	}
}

func (p *Processor) describe(item Item) (string, string) {
	if d, ok := p.handler.(ItemDescriber); ok {
		return d.Describe(item)
	}
	return "", ""
}

func (p *Processor) safeHandle(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.HandleItem(ctx, item)
}
