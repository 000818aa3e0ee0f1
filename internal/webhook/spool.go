package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type spoolFile struct {
	SavedAt time.Time `json:"saved_at"`
	Items   []Item    `json:"items"`
}

// SaveSpool writes the queue's active items to path. An empty queue removes the file.
func SaveSpool(path string, q *Queue) (int, error) {
	items := q.Snapshot()
	if len(items) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("webhook spool: remove: %w", err)
		}
		return 0, nil
	}
	raw, err := json.Marshal(spoolFile{SavedAt: time.Now().UTC(), Items: items})
	if err != nil {
		return 0, fmt.Errorf("webhook spool: marshal: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, fmt.Errorf("webhook spool: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return 0, fmt.Errorf("webhook spool: write: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("webhook spool: rename: %w", err)
	}
	return len(items), nil
}

// LoadSpool restores items from path into q and removes the file. A missing file is
// not an error.
func LoadSpool(path string, q *Queue) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("webhook spool: read: %w", err)
	}
	var spool spoolFile
	if err = json.Unmarshal(raw, &spool); err != nil {
		return 0, fmt.Errorf("webhook spool: decode: %w", err)
	}
	restored := q.Restore(spool.Items)
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return restored, fmt.Errorf("webhook spool: remove: %w", err)
	}
	return restored, nil
}
