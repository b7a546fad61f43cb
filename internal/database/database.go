package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"waconsole/internal/migrations"
	"waconsole/internal/models"
	"waconsole/internal/validation"

	_ "github.com/mattn/go-sqlite3"
)

// ErrMutationNotFound is returned by GetMutation for an unknown id.
var ErrMutationNotFound = errors.New("mutation not found")

// Database is the sqlite-backed mutation journal.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

// New opens (creating if needed) the journal at dbPath and applies migrations.
func New(dbPath string) (*Database, error) {
	if err := validation.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	enc, err := encryptorFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	return open(dbPath, enc)
}

func open(dbPath string, enc *encryptor) (*Database, error) {
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - validated by caller
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", err, closeErr)
		}
		return nil, err
	}

	return &Database{db: db, encryptor: enc}, nil
}

func initSchema(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	all, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	for _, m := range all {
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// HealthCheck pings the underlying connection.
func (d *Database) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RecordMutation inserts the mutation or updates its state, error and resolution time.
func (d *Database) RecordMutation(ctx context.Context, m *models.Mutation) error {
	conversationID, err := d.encryptor.EncryptForLookup(m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation id: %w", err)
	}
	detail, err := d.encryptor.Encrypt(m.Detail)
	if err != nil {
		return fmt.Errorf("failed to encrypt detail: %w", err)
	}
	errText, err := d.encryptor.Encrypt(m.Error)
	if err != nil {
		return fmt.Errorf("failed to encrypt error: %w", err)
	}

	var resolvedAt any
	if m.ResolvedAt != nil {
		resolvedAt = m.ResolvedAt.UTC()
	}

	query := `
		INSERT INTO mutation_journal (
			id, kind, conversation_id, state, detail, error, started_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			resolved_at = excluded.resolved_at,
			updated_at = CURRENT_TIMESTAMP
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			m.ID,
			string(m.Kind),
			conversationID,
			string(m.State),
			detail,
			errText,
			m.StartedAt.UTC(),
			resolvedAt,
		)
		return err
	}, "record mutation")
}

const selectMutation = `
	SELECT id, kind, conversation_id, state, detail, error, started_at, resolved_at
	FROM mutation_journal
`

// GetMutation loads one journal entry by id.
func (d *Database) GetMutation(ctx context.Context, id string) (*models.Mutation, error) {
	row := d.db.QueryRowContext(ctx, selectMutation+" WHERE id = ?", id)
	m, err := d.scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMutationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation: %w", err)
	}
	return m, nil
}

// ListMutations returns the newest entries first. An empty conversationID lists all.
func (d *Database) ListMutations(ctx context.Context, conversationID string, limit int) ([]models.Mutation, error) {
	query := selectMutation
	args := []any{}
	if conversationID != "" {
		encrypted, err := d.encryptor.EncryptForLookup(conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt conversation id: %w", err)
		}
		query += " WHERE conversation_id = ?"
		args = append(args, encrypted)
	}
	query += " ORDER BY started_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []models.Mutation
	for rows.Next() {
		m, err := d.scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// CleanupOldMutations deletes resolved entries started before now - retentionDays.
// Pending entries are kept regardless of age.
func (d *Database) CleanupOldMutations(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var deleted int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM mutation_journal WHERE state != ? AND started_at < ?`,
			string(models.MutationPending), cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	}, "cleanup mutations")
	return deleted, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (d *Database) scanMutation(s scanner) (*models.Mutation, error) {
	var (
		m                      models.Mutation
		kind, state            string
		conversationID, detail string
		errText                string
		resolvedAt             sql.NullTime
	)
	if err := s.Scan(&m.ID, &kind, &conversationID, &state, &detail, &errText, &m.StartedAt, &resolvedAt); err != nil {
		return nil, err
	}

	var err error
	if m.ConversationID, err = d.encryptor.Decrypt(conversationID); err != nil {
		return nil, err
	}
	if m.Detail, err = d.encryptor.Decrypt(detail); err != nil {
		return nil, err
	}
	if m.Error, err = d.encryptor.Decrypt(errText); err != nil {
		return nil, err
	}
	m.Kind = models.MutationKind(kind)
	m.State = models.MutationState(state)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}
