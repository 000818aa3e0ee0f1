package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
)

func score(v int) *int { return &v }

func testRecord(id string) health.Record {
	return health.Record{
		ID:         id,
		UserID:     "user-1",
		Kind:       health.KindSleep,
		ItemID:     "item-1",
		ReceivedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Payload:    json.RawMessage(`{"userId":"user-1","sleepTimeSeconds":27000}`),
	}
}

func TestFileStoreRecordUpsert(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	rec := testRecord("summary-1")
	if err = s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.ItemID = "item-2"
	if err = s.Save(ctx, rec); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, found, err := s.LoadRecord("user-1", "summary-1")
	if err != nil || !found {
		t.Fatalf("LoadRecord found=%v err=%v", found, err)
	}
	if got.ItemID != "item-2" {
		t.Fatalf("ItemID = %q, want item-2", got.ItemID)
	}
	entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "records", "user-1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one record file, got %d", len(entries))
	}
}

func TestFileStoreKeepsPathsInsideBaseDir(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	rec := testRecord("../../escape")
	rec.UserID = ".."
	if err = s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := s.recordPath(rec.UserID, rec.ID)
	rel, err := filepath.Rel(filepath.Join(s.BaseDir(), "records"), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("record path %s escapes the records directory", path)
	}
}

func TestFileStoreProfileMerge(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	if _, found, _ := s.LookupProfile(ctx, "user-1"); found {
		t.Fatalf("expected no profile before the first update")
	}
	if _, err = s.UpdateScores(ctx, "user-1", health.Scores{Sleep: score(95)}); err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}
	profile, err := s.UpdateScores(ctx, "user-1", health.Scores{Stress: score(40)})
	if err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}
	if profile.Sleep == nil || *profile.Sleep != 95 {
		t.Fatalf("sleep score lost on merge: %+v", profile)
	}
	if profile.Stress == nil || *profile.Stress != 40 {
		t.Fatalf("stress score not applied: %+v", profile)
	}

	reopened, err := NewFileStore(s.BaseDir())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	loaded, found, err := reopened.LookupProfile(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("LookupProfile found=%v err=%v", found, err)
	}
	if loaded.Sleep == nil || *loaded.Sleep != 95 || loaded.Stress == nil || *loaded.Stress != 40 {
		t.Fatalf("unexpected persisted profile %+v", loaded)
	}
}

func TestFileStoreRegistrationKeepsCreatedAt(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	first, err := s.SaveRegistration(ctx, webhook.Registration{UserID: "user-1", CallbackURL: "https://a.example/hook"})
	if err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	second, err := s.SaveRegistration(ctx, webhook.Registration{UserID: "user-1", CallbackURL: "https://b.example/hook"})
	if err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	got, found, err := s.LookupRegistration(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("LookupRegistration found=%v err=%v", found, err)
	}
	if got.CallbackURL != "https://b.example/hook" {
		t.Fatalf("CallbackURL = %q", got.CallbackURL)
	}
}

func countCommits(t *testing.T, dir string) int {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	n := 0
	if err = iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	return n
}

func TestGitStoreCommitsChangedRecordsOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	s := NewGitStore(dir, "", "", "")
	ctx := context.Background()

	rec := testRecord("summary-1")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save unchanged: %v", err)
	}
	if got := countCommits(t, s.RepoDir()); got != 1 {
		t.Fatalf("commits after identical saves = %d, want 1", got)
	}

	rec.ItemID = "item-2"
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save changed: %v", err)
	}
	if got := countCommits(t, s.RepoDir()); got != 2 {
		t.Fatalf("commits after change = %d, want 2", got)
	}
	if _, err := os.Stat(filepath.Join(s.RepoDir(), "records", "user-1", "summary-1.json")); err != nil {
		t.Fatalf("record file missing: %v", err)
	}
}

func TestObjectStoreRequiresConfig(t *testing.T) {
	if _, err := NewObjectStore(ObjectStoreConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	s, err := NewObjectStore(ObjectStoreConfig{
		Endpoint:  "localhost:9000",
		Bucket:    "wearsync",
		AccessKey: "key",
		SecretKey: "secret",
		Prefix:    "/prod/",
	})
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	if got := s.prefixedKey(recordObjectKey("user/1", "sha256:ab")); got != "prod/records/user%2F1/sha256:ab.json" {
		t.Fatalf("prefixedKey = %q", got)
	}
}

func TestPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), PostgresStoreConfig{DSN: "  "}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestPostgresRecordsKeyOnUserAndID(t *testing.T) {
	ddl := recordTableDDL(`"health_records"`)
	if !strings.Contains(ddl, "PRIMARY KEY (user_id, id)") || strings.Contains(ddl, "id TEXT PRIMARY KEY") {
		t.Fatalf("record table must key on (user_id, id):\n%s", ddl)
	}
	upsert := recordUpsertQuery(`"health_records"`)
	if !strings.Contains(upsert, "ON CONFLICT (user_id, id)") {
		t.Fatalf("upsert must conflict on (user_id, id):\n%s", upsert)
	}
	if strings.Contains(upsert, "user_id = EXCLUDED.user_id") {
		t.Fatalf("upsert must never reassign a record to another user:\n%s", upsert)
	}
}

type failingRecords struct{ calls int }

func (f *failingRecords) Save(context.Context, health.Record) error {
	f.calls++
	return os.ErrPermission
}

func TestMirroredRecordsIgnoresArchiveFailures(t *testing.T) {
	primary := health.NewMemoryRecords()
	archive := &failingRecords{}
	m := &MirroredRecords{Primary: primary, Archives: []NamedRecordStore{{Name: "broken", Store: archive}}}
	if err := m.Save(context.Background(), testRecord("summary-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if primary.Len() != 1 || archive.calls != 1 {
		t.Fatalf("primary=%d archive calls=%d", primary.Len(), archive.calls)
	}

	m = &MirroredRecords{Primary: &failingRecords{}, Archives: []NamedRecordStore{{Name: "mem", Store: primary}}}
	if err := m.Save(context.Background(), testRecord("summary-2")); err == nil {
		t.Fatalf("expected primary failure to surface")
	}
	if primary.Len() != 1 {
		t.Fatalf("archive written after primary failure")
	}
}
