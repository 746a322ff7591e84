// Package sqlite provides a SQLite-backed campaign store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"github.com/GoSim-25-26J-441/doe-core/internal/store/sqlite/migrations"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	_ "modernc.org/sqlite"
)

// Store persists campaign records in SQLite. Vector fields are stored as JSON text.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite campaign store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts one campaign record. CreatedAt is kept from the first save.
func (s *Store) Save(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if rec == nil || strings.TrimSpace(rec.ID) == "" || rec.State == "" {
		return store.ErrInvalidRecord
	}

	pending := ""
	if rec.Pending != nil {
		b, err := json.Marshal(rec.Pending)
		if err != nil {
			return fmt.Errorf("encode pending design: %w", err)
		}
		pending = string(b)
	}
	observations := rec.Observations
	if observations == nil {
		observations = []models.Observation{}
	}
	obs, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("encode observations: %w", err)
	}
	probabilities := rec.Probabilities
	if probabilities == nil {
		probabilities = []float64{}
	}
	probs, err := json.Marshal(probabilities)
	if err != nil {
		return fmt.Errorf("encode probabilities: %w", err)
	}

	now := time.Now().UTC()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO campaigns (
		   id, state, round, pending, pending_score, observations,
		   probabilities, config, error, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   round = excluded.round,
		   pending = excluded.pending,
		   pending_score = excluded.pending_score,
		   observations = excluded.observations,
		   probabilities = excluded.probabilities,
		   config = excluded.config,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		rec.ID,
		rec.State,
		rec.Round,
		pending,
		rec.PendingScore,
		string(obs),
		string(probs),
		rec.Config,
		rec.Error,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, state, round, pending, pending_score, observations,
		        probabilities, config, error, created_at, updated_at
		   FROM campaigns`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var rec store.Record
	var pending, obs, probs string
	var createdAt, updatedAt int64
	if err := row.Scan(
		&rec.ID,
		&rec.State,
		&rec.Round,
		&pending,
		&rec.PendingScore,
		&obs,
		&probs,
		&rec.Config,
		&rec.Error,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if pending != "" {
		if err := json.Unmarshal([]byte(pending), &rec.Pending); err != nil {
			return nil, fmt.Errorf("decode pending design: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(obs), &rec.Observations); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	if err := json.Unmarshal([]byte(probs), &rec.Probabilities); err != nil {
		return nil, fmt.Errorf("decode probabilities: %w", err)
	}
	if len(rec.Probabilities) == 0 {
		rec.Probabilities = nil
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// Get returns one campaign record by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("campaign id is required")
	}

	rec, err := scanRecord(s.sqlDB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return rec, nil
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.sqlDB.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]*store.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

// Delete removes one campaign record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
