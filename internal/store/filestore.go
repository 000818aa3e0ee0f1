package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
)

// FileStore keeps records, profiles and registrations as JSON files below a
// base directory:
//
//	records/<user>/<record>.json
//	profiles/<user>.json
//	registrations/<user>.json
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

var (
	_ health.RecordStore        = (*FileStore)(nil)
	_ health.ProfileStore       = (*FileStore)(nil)
	_ webhook.RegistrationStore = (*FileStore)(nil)
)

// NewFileStore creates the directory layout under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("file store: base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve base directory: %w", err)
	}
	for _, sub := range []string{"records", "profiles", "registrations"} {
		if err = os.MkdirAll(filepath.Join(abs, sub), 0o700); err != nil {
			return nil, fmt.Errorf("file store: create %s directory: %w", sub, err)
		}
	}
	return &FileStore{baseDir: abs}, nil
}

// BaseDir returns the absolute root of the store.
func (s *FileStore) BaseDir() string { return s.baseDir }

func (s *FileStore) Save(_ context.Context, record health.Record) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("file store: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.recordPath(record.UserID, record.ID), record)
}

// LoadRecord reads a stored record.
func (s *FileStore) LoadRecord(userID, recordID string) (health.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var record health.Record
	found, err := s.readJSON(s.recordPath(userID, recordID), &record)
	return record, found, err
}

func (s *FileStore) UpdateScores(_ context.Context, userID string, scores health.Scores) (health.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.userPath("profiles", userID)
	var profile health.Profile
	if _, err := s.readJSON(path, &profile); err != nil {
		return health.Profile{}, err
	}
	profile.UserID = userID
	profile.Merge(scores)
	profile.UpdatedAt = time.Now().UTC()
	if err := s.writeJSON(path, profile); err != nil {
		return health.Profile{}, err
	}
	return profile, nil
}

func (s *FileStore) LookupProfile(_ context.Context, userID string) (health.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var profile health.Profile
	found, err := s.readJSON(s.userPath("profiles", userID), &profile)
	return profile, found, err
}

func (s *FileStore) SaveRegistration(_ context.Context, reg webhook.Registration) (webhook.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.userPath("registrations", reg.UserID)
	now := time.Now().UTC()
	var existing webhook.Registration
	found, err := s.readJSON(path, &existing)
	if err != nil {
		return webhook.Registration{}, err
	}
	reg.CreatedAt = now
	if found {
		reg.CreatedAt = existing.CreatedAt
	}
	reg.UpdatedAt = now
	if err = s.writeJSON(path, reg); err != nil {
		return webhook.Registration{}, err
	}
	return reg, nil
}

func (s *FileStore) LookupRegistration(_ context.Context, userID string) (webhook.Registration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reg webhook.Registration
	found, err := s.readJSON(s.userPath("registrations", userID), &reg)
	return reg, found, err
}

func (s *FileStore) recordPath(userID, recordID string) string {
	return filepath.Join(s.baseDir, "records", objectName(userID), objectName(recordID)+".json")
}

func (s *FileStore) userPath(kind, userID string) string {
	return filepath.Join(s.baseDir, kind, objectName(userID)+".json")
}

func (s *FileStore) writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal %s: %w", filepath.Base(path), err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("file store: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("file store: write temp: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

func (s *FileStore) readJSON(path string, dst any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file store: read %s: %w", filepath.Base(path), err)
	}
	if err = json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("file store: decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
