// Package notify delivers alerts to registered notifiers off the processing path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/util"
	log "github.com/sirupsen/logrus"
)

// Alert is a real-time notification about one user.
type Alert struct {
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	ItemID    string    `json:"itemId,omitempty"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// Notifier consumes alerts. Errors are logged by the dispatcher and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type queueItem struct {
	ctx   context.Context
	alert Alert
}

// Dispatcher queues alerts and delivers them to every registered notifier on a
// background goroutine.
type Dispatcher struct {
	once     sync.Once
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queueItem
	closed bool

	notifiersMu sync.RWMutex
	notifiers   []Notifier
}

// NewDispatcher constructs an idle dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the delivery goroutine. Calling Start multiple times is safe.
func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		var workerCtx context.Context
		workerCtx, d.cancel = context.WithCancel(ctx)
		go d.run(workerCtx)
	})
}

// Stop drains queued alerts and waits for the delivery goroutine to exit.
func (d *Dispatcher) Stop() {
	if d == nil {
		return
	}
	// a dispatcher that never started has no goroutine to close done
	d.once.Do(func() { close(d.done) })
	first := false
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cond.Broadcast()
		first = true
	})
	if first {
		<-d.done
		if d.cancel != nil {
			d.cancel()
		}
	}
}

// Register appends a notifier to the delivery list.
func (d *Dispatcher) Register(n Notifier) {
	if d == nil || n == nil {
		return
	}
	d.notifiersMu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.notifiersMu.Unlock()
}

// Publish enqueues an alert and returns immediately.
func (d *Dispatcher) Publish(ctx context.Context, alert Alert) {
	if d == nil {
		return
	}
	d.Start(context.Background())
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, queueItem{ctx: context.WithoutCancel(ctx), alert: alert})
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		d.mu.Lock()
		for !d.closed && len(d.queue) == 0 {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.dispatch(ctx, item)
	}
}

func (d *Dispatcher) dispatch(_ context.Context, item queueItem) {
	d.notifiersMu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.notifiersMu.RUnlock()
	for _, n := range notifiers {
		safeInvoke(n, item.ctx, item.alert)
	}
}

func safeInvoke(n Notifier, ctx context.Context, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("notify: notifier panic recovered: %v", r)
		}
	}()
	if err := n.Notify(ctx, alert); err != nil {
		log.WithFields(log.Fields{"user_id": alert.UserID, "kind": alert.Type}).WithError(err).Warn("notify: delivery failed")
	}
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	log.WithFields(log.Fields{
		"user_id": alert.UserID,
		"kind":    alert.Type,
		"item_id": alert.ItemID,
	}).Warnf("alert: %s", alert.Message)
	return nil
}

// HTTPNotifier posts alerts as JSON to a fixed URL.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier builds a notifier that honours the configured proxy.
func NewHTTPNotifier(cfg *config.Config) *HTTPNotifier {
	client := util.SetProxy(&cfg.SDKConfig, &http.Client{})
	client.Timeout = 10 * time.Second
	return &HTTPNotifier{url: strings.TrimSpace(cfg.Alerts.NotifyURL), client: client}
}

func (h *HTTPNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("notify: marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post alert: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
