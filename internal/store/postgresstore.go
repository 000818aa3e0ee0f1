package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRecordTable       = "health_records"
	defaultProfileTable      = "health_profiles"
	defaultDeadLetterTable   = "webhook_dead_letters"
	defaultRegistrationTable = "webhook_registrations"
)

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN               string
	Schema            string
	RecordTable       string
	ProfileTable      string
	DeadLetterTable   string
	RegistrationTable string
}

// PostgresStore persists health records, profiles, dead letters and webhook
// registrations in PostgreSQL. Each table keeps a JSONB document keyed by id.
type PostgresStore struct {
	db  *sql.DB
	cfg PostgresStoreConfig
}

var (
	_ health.RecordStore        = (*PostgresStore)(nil)
	_ health.ProfileStore       = (*PostgresStore)(nil)
	_ webhook.DeadLetterSink    = (*PostgresStore)(nil)
	_ webhook.RegistrationStore = (*PostgresStore)(nil)
)

// NewPostgresStore establishes a connection to PostgreSQL.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	cfg.DSN = trimmedDSN
	if cfg.RecordTable == "" {
		cfg.RecordTable = defaultRecordTable
	}
	if cfg.ProfileTable == "" {
		cfg.ProfileTable = defaultProfileTable
	}
	if cfg.DeadLetterTable == "" {
		cfg.DeadLetterTable = defaultDeadLetterTable
	}
	if cfg.RegistrationTable == "" {
		cfg.RegistrationTable = defaultRegistrationTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg}, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the required tables (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, recordTableDDL(s.fullTableName(s.cfg.RecordTable))); err != nil {
		return fmt.Errorf("postgres store: create table %s: %w", s.cfg.RecordTable, err)
	}
	for _, table := range []string{s.cfg.ProfileTable, s.cfg.DeadLetterTable, s.cfg.RegistrationTable} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName(table))); err != nil {
			return fmt.Errorf("postgres store: create table %s: %w", table, err)
		}
	}
	return nil
}

// Provider record ids are only unique per user, so records key on both.
func recordTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, id)
		)
	`, table)
}

func recordUpsertQuery(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (user_id, id, kind, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id, id)
		DO UPDATE SET kind = EXCLUDED.kind, content = EXCLUDED.content, updated_at = NOW()
	`, table)
}

// Save upserts a raw record by user and record id.
func (s *PostgresStore) Save(ctx context.Context, record health.Record) error {
	content, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("postgres store: marshal record: %w", err)
	}
	query := recordUpsertQuery(s.fullTableName(s.cfg.RecordTable))
	if _, err = s.db.ExecContext(ctx, query, record.UserID, record.ID, string(record.Kind), json.RawMessage(content)); err != nil {
		return fmt.Errorf("postgres store: upsert record: %w", err)
	}
	return nil
}

// UpdateScores merges scores into the user's profile inside one transaction.
// The row is created first so concurrent updates serialize on the row lock.
func (s *PostgresStore) UpdateScores(ctx context.Context, userID string, scores health.Scores) (profile health.Profile, err error) {
	table := s.fullTableName(s.cfg.ProfileTable)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: begin profile update: %w", err)
	}
	defer func() {
		if err != nil {
			if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
				log.WithError(errRollback).Warn("postgres store: rollback profile update")
			}
		}
	}()

	seed, _ := json.Marshal(health.Profile{UserID: userID})
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING
	`, table), userID, json.RawMessage(seed)); err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: seed profile: %w", err)
	}

	var raw []byte
	if err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT content FROM %s WHERE id = $1 FOR UPDATE", table), userID).Scan(&raw); err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: load profile: %w", err)
	}
	if err = json.Unmarshal(raw, &profile); err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: decode profile: %w", err)
	}
	profile.UserID = userID
	profile.Merge(scores)
	profile.UpdatedAt = time.Now().UTC()

	content, err := json.Marshal(profile)
	if err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: marshal profile: %w", err)
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET content = $2, updated_at = NOW() WHERE id = $1", table), userID, json.RawMessage(content)); err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: update profile: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return health.Profile{}, fmt.Errorf("postgres store: commit profile: %w", err)
	}
	return profile, nil
}

// LookupProfile returns the stored profile for userID.
func (s *PostgresStore) LookupProfile(ctx context.Context, userID string) (health.Profile, bool, error) {
	var profile health.Profile
	found, err := s.loadDocument(ctx, s.cfg.ProfileTable, userID, &profile)
	if err != nil || !found {
		return health.Profile{}, false, err
	}
	return profile, true, nil
}

// WriteDeadLetter stores the letter keyed by its item id.
func (s *PostgresStore) WriteDeadLetter(ctx context.Context, letter webhook.DeadLetter) error {
	content, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("postgres store: marshal dead letter: %w", err)
	}
	if err = s.upsertDocument(ctx, s.cfg.DeadLetterTable, letter.ItemID, content); err != nil {
		return fmt.Errorf("postgres store: upsert dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns up to limit dead letters, newest first.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit int) ([]webhook.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT content FROM %s ORDER BY updated_at DESC LIMIT $1", s.fullTableName(s.cfg.DeadLetterTable))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query dead letters: %w", err)
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.WithError(errClose).Warn("postgres store: close dead letter rows")
		}
	}()
	letters := make([]webhook.DeadLetter, 0, limit)
	for rows.Next() {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres store: scan dead letter: %w", err)
		}
		var letter webhook.DeadLetter
		if err = json.Unmarshal(raw, &letter); err != nil {
			log.WithError(err).Warn("postgres store: skipping undecodable dead letter")
			continue
		}
		letters = append(letters, letter)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate dead letters: %w", err)
	}
	return letters, nil
}

// SaveRegistration upserts by user id, keeping the original creation time.
func (s *PostgresStore) SaveRegistration(ctx context.Context, reg webhook.Registration) (webhook.Registration, error) {
	now := time.Now().UTC()
	existing, found, err := s.LookupRegistration(ctx, reg.UserID)
	if err != nil {
		return webhook.Registration{}, err
	}
	reg.CreatedAt = now
	if found {
		reg.CreatedAt = existing.CreatedAt
	}
	reg.UpdatedAt = now
	content, err := json.Marshal(reg)
	if err != nil {
		return webhook.Registration{}, fmt.Errorf("postgres store: marshal registration: %w", err)
	}
	if err = s.upsertDocument(ctx, s.cfg.RegistrationTable, reg.UserID, content); err != nil {
		return webhook.Registration{}, fmt.Errorf("postgres store: upsert registration: %w", err)
	}
	return reg, nil
}

// LookupRegistration returns the registration for userID.
func (s *PostgresStore) LookupRegistration(ctx context.Context, userID string) (webhook.Registration, bool, error) {
	var reg webhook.Registration
	found, err := s.loadDocument(ctx, s.cfg.RegistrationTable, userID, &reg)
	if err != nil || !found {
		return webhook.Registration{}, false, err
	}
	return reg, true, nil
}

func (s *PostgresStore) upsertDocument(ctx context.Context, table, id string, content []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullTableName(table))
	_, err := s.db.ExecContext(ctx, query, id, json.RawMessage(content))
	return err
}

func (s *PostgresStore) loadDocument(ctx context.Context, table, id string, dst any) (bool, error) {
	var raw []byte
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.fullTableName(table))
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres store: load %s: %w", table, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("postgres store: decode %s: %w", table, err)
	}
	return true, nil
}

func (s *PostgresStore) fullTableName(name string) string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(name)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(name)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
