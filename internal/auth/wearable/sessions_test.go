package wearable

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionStoreTakeIsReadOnce(t *testing.T) {
	store := NewSessionStore(time.Minute)
	if err := store.Put(AuthorizationSession{State: "s1", CodeVerifier: "v1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		taken atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := store.Take("s1"); ok {
				taken.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if taken.Load() != 1 {
		t.Fatalf("expected one Take to succeed, got %d", taken.Load())
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestSessionStoreRejectsLiveDuplicateState(t *testing.T) {
	store := NewSessionStore(time.Minute)
	if err := store.Put(AuthorizationSession{State: "s1", CodeVerifier: "v1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(AuthorizationSession{State: "s1", CodeVerifier: "v2"}); err == nil {
		t.Fatalf("expected second Put for a live state to fail")
	}
	session, _ := store.Lookup("s1")
	if session.CodeVerifier != "v1" {
		t.Fatalf("live session was replaced: %q", session.CodeVerifier)
	}
}

func TestSessionStoreSweepRemovesExpired(t *testing.T) {
	store := NewSessionStore(time.Minute)
	base := time.Now()
	store.now = func() time.Time { return base }

	_ = store.Put(AuthorizationSession{State: "old", CreatedAt: base.Add(-2 * time.Minute)})
	_ = store.Put(AuthorizationSession{State: "fresh"})

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := store.Lookup("fresh"); !ok {
		t.Fatalf("fresh session must survive the sweep")
	}
	if _, ok := store.Take("old"); ok {
		t.Fatalf("expired session must not be taken")
	}
	// deleting an absent state is a no-op
	store.Discard("old")
	store.Discard("missing")
}

func TestSessionStoreSweeperStopsWithContext(t *testing.T) {
	store := NewSessionStore(time.Millisecond)
	_ = store.Put(AuthorizationSession{State: "s", CreatedAt: time.Now().Add(-time.Second)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartSweeper(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not purge the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryLedgerClaimOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		claims atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := ledger.Claim(context.Background(), "c"); ok {
				claims.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if claims.Load() != 1 {
		t.Fatalf("expected one claim, got %d", claims.Load())
	}
}

func TestRedisLedgerKeyHidesCode(t *testing.T) {
	key := redisLedgerKey("secret-code")
	if key == redisLedgerPrefix+"secret-code" || len(key) != len(redisLedgerPrefix)+64 {
		t.Fatalf("unexpected ledger key %q", key)
	}
	if redisLedgerKey("secret-code") != key {
		t.Fatalf("ledger key must be deterministic")
	}
}
