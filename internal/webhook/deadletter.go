package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DeadLetter is the record kept for an item that will not be retried.
type DeadLetter struct {
	ItemID        string          `json:"item_id"`
	Source        string          `json:"source,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error"`
	Unprocessable bool            `json:"unprocessable,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	FailedAt      time.Time       `json:"failed_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewDeadLetter builds the record for a dead item.
func NewDeadLetter(item Item, unprocessable bool) DeadLetter {
	return DeadLetter{
		ItemID:        item.ID,
		Source:        item.Source,
		AttemptCount:  item.Attempts,
		LastError:     item.LastError,
		Unprocessable: unprocessable,
		ReceivedAt:    item.ReceivedAt,
		FailedAt:      time.Now().UTC(),
		Payload:       item.Payload,
	}
}

// DeadLetterSink receives dead letters.
type DeadLetterSink interface {
	WriteDeadLetter(ctx context.Context, letter DeadLetter) error
}

// DeadLetterLister serves the dead-letter read endpoint.
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// MemoryDeadLetters keeps the latest dead letters for the status API.
type MemoryDeadLetters struct {
	mu      sync.RWMutex
	limit   int
	entries []DeadLetter
	total   int
}

// NewMemoryDeadLetters keeps at most limit entries.
func NewMemoryDeadLetters(limit int) *MemoryDeadLetters {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryDeadLetters{limit: limit}
}

func (m *MemoryDeadLetters) WriteDeadLetter(_ context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, letter)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append([]DeadLetter(nil), m.entries[over:]...)
	}
	m.total++
	return nil
}

// List returns up to limit dead letters, newest first.
func (m *MemoryDeadLetters) List(limit int) []DeadLetter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]DeadLetter, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out
}

func (m *MemoryDeadLetters) ListDeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	return m.List(limit), nil
}

// Total counts every dead letter written since start, including evicted ones.
func (m *MemoryDeadLetters) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// JournalDeadLetters appends dead letters as JSON lines to a rotating file.
type JournalDeadLetters struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewJournalDeadLetters writes to path, rotating at 10 MB.
func NewJournalDeadLetters(path string) (*JournalDeadLetters, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("webhook: create dead-letter dir: %w", err)
	}
	return &JournalDeadLetters{
		writer: &lumberjack.Logger{
			Filename: path,
			MaxSize:  10,
		},
	}, nil
}

func (j *JournalDeadLetters) WriteDeadLetter(_ context.Context, letter DeadLetter) error {
	line, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("webhook: marshal dead letter: %w", err)
	}
	line = append(line, '\n')
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.writer.Write(line); err != nil {
		return fmt.Errorf("webhook: write dead letter: %w", err)
	}
	return nil
}

// Close closes the journal file.
func (j *JournalDeadLetters) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writer.Close()
}

// MultiDeadLetterSink fans a dead letter out to every sink and joins their errors.
type MultiDeadLetterSink []DeadLetterSink

func (m MultiDeadLetterSink) WriteDeadLetter(ctx context.Context, letter DeadLetter) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.WriteDeadLetter(ctx, letter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
