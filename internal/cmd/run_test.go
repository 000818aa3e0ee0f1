package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.Sanitize()
	return cfg
}

func TestOpenStoresDefaultsToFiles(t *testing.T) {
	cfg := testConfig(t)
	b, err := openStores(context.Background(), cfg, StoreOptions{})
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	if _, ok := b.records.(*store.FileStore); !ok {
		t.Fatalf("records = %T, want *store.FileStore", b.records)
	}
	if b.deadLetterLister != nil {
		t.Fatalf("file backend should not provide a dead-letter lister")
	}
}

func TestOpenStoresMirrorsToGit(t *testing.T) {
	cfg := testConfig(t)
	b, err := openStores(context.Background(), cfg, StoreOptions{UseGitStore: true})
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	mirrored, ok := b.records.(*store.MirroredRecords)
	if !ok {
		t.Fatalf("records = %T, want *store.MirroredRecords", b.records)
	}
	if len(mirrored.Archives) != 1 || mirrored.Archives[0].Name != "git" {
		t.Fatalf("unexpected archives %+v", mirrored.Archives)
	}
}

func TestApplyConfigUpdatesLiveSettings(t *testing.T) {
	cfg := testConfig(t)
	svc := &service{cfg: cfg}
	t.Cleanup(svc.close)
	if err := svc.build(context.Background(), StoreOptions{}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if !svc.authenticator.Relaxed() {
		t.Fatalf("expected relaxed mode without a secret")
	}

	next := testConfig(t)
	next.Webhook.Secret = "rotated"
	next.Webhook.ReplayWindowSeconds = 60
	svc.applyConfig(cfg, next)
	if svc.authenticator.Relaxed() {
		t.Fatalf("secret was not applied")
	}

	svc.processor.Start(context.Background())
	svc.dispatcher.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	svc.shutdown()
	if svc.processor.Running() {
		t.Fatalf("processor still running after shutdown")
	}
}
