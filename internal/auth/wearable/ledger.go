package wearable

import (
	"context"
	"sync"
	"time"
)

// CodeLedger records authorization codes that have been claimed for exchange.
// Claim must check and mark in a single atomic step: it returns true for exactly one
// caller per code, ever.
type CodeLedger interface {
	Claim(ctx context.Context, code string) (bool, error)
}

// MemoryLedger is a process-local ledger. Entries are never evicted.
type MemoryLedger struct {
	codes sync.Map
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Claim marks code as used and reports whether this call was the first to do so.
func (l *MemoryLedger) Claim(_ context.Context, code string) (bool, error) {
	_, loaded := l.codes.LoadOrStore(code, time.Now())
	return !loaded, nil
}

// Used reports whether code has been claimed.
func (l *MemoryLedger) Used(code string) bool {
	_, ok := l.codes.Load(code)
	return ok
}
