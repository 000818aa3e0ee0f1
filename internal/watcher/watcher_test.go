package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/wearsync/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func newTestWatcher(t *testing.T, body string) (*Watcher, string, chan *config.Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, body)
	reloaded := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(_, newCfg *config.Config) { reloaded <- newCfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	w.SetConfig(cfg)
	return w, path, reloaded
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	w, _, reloaded := newTestWatcher(t, "port: 8400\n")
	w.reloadConfigIfChanged()
	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload with port %d", cfg.Port)
	default:
	}
}

func TestReloadAppliesChangedContent(t *testing.T) {
	w, path, reloaded := newTestWatcher(t, "port: 8400\nalerts:\n  stress-threshold: 80\n")
	writeConfig(t, path, "port: 8400\nalerts:\n  stress-threshold: 65\n")
	w.reloadConfigIfChanged()
	select {
	case cfg := <-reloaded:
		if cfg.Alerts.StressThreshold != 65 {
			t.Fatalf("StressThreshold = %d, want 65", cfg.Alerts.StressThreshold)
		}
	default:
		t.Fatalf("expected reload callback")
	}
	if got := w.Config().Alerts.StressThreshold; got != 65 {
		t.Fatalf("watcher config not updated: %d", got)
	}

	w.reloadConfigIfChanged()
	select {
	case <-reloaded:
		t.Fatalf("second reload of identical content should be skipped")
	default:
	}
}

func TestReloadKeepsConfigOnParseError(t *testing.T) {
	w, path, reloaded := newTestWatcher(t, "port: 8400\n")
	writeConfig(t, path, "port: [not-a-port\n")
	w.reloadConfigIfChanged()
	select {
	case <-reloaded:
		t.Fatalf("broken config must not be applied")
	default:
	}
	if got := w.Config().Port; got != 8400 {
		t.Fatalf("port = %d, want 8400", got)
	}
}

func TestHandleEventIgnoresOtherFiles(t *testing.T) {
	w, path, _ := newTestWatcher(t, "port: 8400\n")
	w.handleEvent(fsnotify.Event{Name: filepath.Join(filepath.Dir(path), "other.yaml"), Op: fsnotify.Write})
	w.configReloadMu.Lock()
	scheduled := w.configReloadTimer != nil
	w.configReloadMu.Unlock()
	if scheduled {
		t.Fatalf("reload scheduled for unrelated file")
	}

	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Chmod})
	w.configReloadMu.Lock()
	scheduled = w.configReloadTimer != nil
	w.configReloadMu.Unlock()
	if scheduled {
		t.Fatalf("reload scheduled for chmod")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	w, path, reloaded := newTestWatcher(t, "port: 8400\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	writeConfig(t, path, "port: 8400\nwebhook:\n  max-attempts: 5\n")

	select {
	case cfg := <-reloaded:
		if cfg.Webhook.MaxAttempts != 5 {
			t.Fatalf("MaxAttempts = %d, want 5", cfg.Webhook.MaxAttempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
}
