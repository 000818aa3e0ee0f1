package wearable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Tokens is the result of a successful code exchange.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func tokensFromOAuth2(tok *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// TokenSink receives tokens once an exchange succeeds.
type TokenSink interface {
	SaveTokens(ctx context.Context, correlationID string, tokens *Tokens) error
}

// tokenRecord is the on-disk layout of a saved token.
type tokenRecord struct {
	Tokens
	CorrelationID string `json:"correlation_id"`
	SavedAt       string `json:"saved_at"`
}

// FileTokenStore writes each token set to <dir>/<correlationId>.json with 0600 permissions.
type FileTokenStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileTokenStore creates a store rooted at dir.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{baseDir: strings.TrimSpace(dir)}
}

// SaveTokens persists tokens under the correlation id.
func (s *FileTokenStore) SaveTokens(_ context.Context, correlationID string, tokens *Tokens) error {
	if tokens == nil {
		return fmt.Errorf("token store: tokens are nil")
	}
	name := filepath.Base(strings.TrimSpace(correlationID))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("token store: invalid correlation id")
	}

	record := tokenRecord{
		Tokens:        *tokens,
		CorrelationID: correlationID,
		SavedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("token store: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("token store: create dir failed: %w", err)
	}
	path := filepath.Join(s.baseDir, name+".json")
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("token store: write: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("token store: rename: %w", err)
	}
	return nil
}

// LoadTokens reads a previously saved token set.
func (s *FileTokenStore) LoadTokens(correlationID string) (*Tokens, error) {
	path := filepath.Join(s.baseDir, filepath.Base(strings.TrimSpace(correlationID))+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record tokenRecord
	if err = json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("token store: decode %s: %w", filepath.Base(path), err)
	}
	return &record.Tokens, nil
}
