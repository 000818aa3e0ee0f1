package logging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// MainLogFile is the active application log inside the log directory.
	MainLogFile = "main.log"
	// DeadLetterJournalFile is the active dead-letter journal inside the log directory.
	DeadLetterJournalFile = "deadletters.jsonl"

	logDirCleanerInterval = time.Minute
)

// rotatedSuffixes covers lumberjack output for the main log and the dead-letter journal.
var rotatedSuffixes = []string{".log", ".log.gz", ".jsonl", ".jsonl.gz"}

var stopCleaner context.CancelFunc

// configureLogDirCleanerLocked restarts the size cleaner for logDir. Files in
// active are never removed. Callers hold writerMu.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, active ...string) {
	stopLogDirCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	limit := int64(maxTotalSizeMB) << 20

	ctx, cancel := context.WithCancel(context.Background())
	stopCleaner = cancel
	go func() {
		ticker := time.NewTicker(logDirCleanerInterval)
		defer ticker.Stop()
		for {
			switch removed, err := enforceLogDirSizeLimit(dir, limit, active...); {
			case err != nil:
				log.WithError(err).Warn("logging: log directory cleanup failed")
			case removed > 0:
				log.Debugf("logging: removed %d rotated file(s) from %s", removed, dir)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if stopCleaner != nil {
		stopCleaner()
		stopCleaner = nil
	}
}

type rotatedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// enforceLogDirSizeLimit deletes the oldest log and journal files in dir until
// their total size is within limit. It returns the number of files removed.
func enforceLogDirSizeLimit(dir string, limit int64, active ...string) (int, error) {
	if limit <= 0 || strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	dir = filepath.Clean(dir)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	keep := make(map[string]struct{}, len(active))
	for _, p := range active {
		if p = strings.TrimSpace(p); p != "" {
			keep[filepath.Clean(p)] = struct{}{}
		}
	}

	var files []rotatedFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, rotatedFile{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= limit {
		return 0, nil
	}

	slices.SortFunc(files, func(a, b rotatedFile) int { return a.modTime.Compare(b.modTime) })
	removed := 0
	for _, f := range files {
		if total <= limit {
			break
		}
		if _, ok := keep[f.path]; ok {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	return slices.ContainsFunc(rotatedSuffixes, func(suffix string) bool {
		return strings.HasSuffix(lower, suffix)
	})
}
