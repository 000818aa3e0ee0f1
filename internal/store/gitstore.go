package store

import (
	"bytes"
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

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/router-for-me/wearsync/internal/health"
	log "github.com/sirupsen/logrus"
)

const gitStoreRecordDir = "records"

// GitStore archives raw records as JSON files in a git working tree and
// commits every change. When a remote is configured each commit is pushed.
type GitStore struct {
	mu       sync.Mutex
	repoDir  string
	remote   string
	username string
	password string
	ready    bool
}

var _ health.RecordStore = (*GitStore)(nil)

// NewGitStore creates a record archive rooted at repoDir. An empty remote
// keeps the repository local.
func NewGitStore(repoDir, remote, username, password string) *GitStore {
	return &GitStore{
		repoDir:  strings.TrimSpace(repoDir),
		remote:   strings.TrimSpace(remote),
		username: username,
		password: password,
	}
}

// RepoDir returns the working tree path.
func (s *GitStore) RepoDir() string { return s.repoDir }

// EnsureRepository prepares the local working tree by cloning, initializing or opening it.
func (s *GitStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepositoryLocked()
}

func (s *GitStore) ensureRepositoryLocked() error {
	if s.ready {
		return nil
	}
	if s.repoDir == "" {
		return fmt.Errorf("git store: repository directory not configured")
	}
	if abs, err := filepath.Abs(s.repoDir); err == nil {
		s.repoDir = abs
	}
	gitDir := filepath.Join(s.repoDir, ".git")
	_, errStat := os.Stat(gitDir)
	switch {
	case errors.Is(errStat, fs.ErrNotExist):
		if err := os.MkdirAll(s.repoDir, 0o700); err != nil {
			return fmt.Errorf("git store: create repo dir: %w", err)
		}
		if err := s.initRepository(); err != nil {
			return err
		}
	case errStat != nil:
		return fmt.Errorf("git store: stat repo: %w", errStat)
	default:
		if err := s.pull(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Join(s.repoDir, gitStoreRecordDir), 0o700); err != nil {
		return fmt.Errorf("git store: create record dir: %w", err)
	}
	s.ready = true
	return nil
}

func (s *GitStore) initRepository() error {
	if s.remote != "" {
		_, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: s.gitAuth(), URL: s.remote})
		if errClone == nil {
			return nil
		}
		if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
			return fmt.Errorf("git store: clone remote: %w", errClone)
		}
		_ = os.RemoveAll(filepath.Join(s.repoDir, ".git"))
	}
	repo, err := git.PlainInit(s.repoDir, false)
	if err != nil {
		return fmt.Errorf("git store: init repo: %w", err)
	}
	if s.remote == "" {
		return nil
	}
	if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.remote},
	}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
		return fmt.Errorf("git store: configure remote: %w", errCreate)
	}
	return nil
}

func (s *GitStore) pull() error {
	if s.remote == "" {
		return nil
	}
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	if errPull := worktree.Pull(&git.PullOptions{Auth: s.gitAuth(), RemoteName: "origin"}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
			// Local history wins; a fresh remote has nothing to pull.
		default:
			return fmt.Errorf("git store: pull: %w", errPull)
		}
	}
	return nil
}

// Save writes the record to records/<user>/<id>.json and commits it.
// Unchanged content produces no commit.
func (s *GitStore) Save(_ context.Context, record health.Record) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("git store: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.ensureRepositoryLocked(); err != nil {
		return err
	}

	rel := filepath.Join(gitStoreRecordDir, objectName(record.UserID), objectName(record.ID)+".json")
	path := filepath.Join(s.repoDir, rel)
	if existing, errRead := os.ReadFile(path); errRead == nil {
		if bytes.Equal(existing, raw) {
			return nil
		}
	} else if !errors.Is(errRead, fs.ErrNotExist) {
		return fmt.Errorf("git store: read existing record: %w", errRead)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("git store: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("git store: write temp: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("git store: rename: %w", err)
	}
	return s.commitAndPushLocked(fmt.Sprintf("Record %s %s", record.Kind, record.ID), filepath.ToSlash(rel))
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(rel); err != nil {
			return fmt.Errorf("git store: add %s: %w", rel, err)
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "wearsync",
		Email: "wearsync@local",
		When:  time.Now(),
	}
	if _, err = worktree.Commit(message, &git.CommitOptions{Author: signature}); err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	if s.remote == "" {
		return nil
	}
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth()}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		// The commit stays local and goes out with the next push.
		log.WithError(err).Warn("git store: push failed")
	}
	return nil
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.username == "" && s.password == "" {
		return nil
	}
	user := s.username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.password}
}
