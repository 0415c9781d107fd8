// Package storage persists sampling runs and their per-step traces in a
// sqlite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"substep/internal/driver"
)

type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("store not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			sampler    TEXT NOT NULL,
			steps      INTEGER NOT NULL,
			seed       INTEGER NOT NULL,
			final_norm REAL NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_steps (
			run_id        TEXT NOT NULL REFERENCES runs(id),
			idx           INTEGER NOT NULL,
			sigma         REAL NOT NULL,
			sigma_next    REAL NOT NULL,
			norm          REAL NOT NULL,
			denoised_norm REAL NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	return err
}

// RunMeta is one persisted run's summary row.
type RunMeta struct {
	ID        string
	CreatedAt time.Time
	Sampler   string
	Steps     int
	Seed      int64
	FinalNorm float64
}

// SaveRun persists a finished run and returns its generated id.
func (s *Store) SaveRun(ctx context.Context, sampler string, seed int64, res *driver.RunResult) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, sampler, steps, seed, final_norm)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, time.Now().UTC().Format(time.RFC3339), sampler, len(res.Steps), seed, res.X.Norm())
	if err != nil {
		return "", err
	}

	for _, rec := range res.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, idx, sigma, sigma_next, norm, denoised_norm)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, rec.Idx, rec.Sigma, rec.SigmaNext, rec.Norm, rec.DenoisedNorm)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunMeta, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, sampler, steps, seed, final_norm
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunMeta
	for rows.Next() {
		var m RunMeta
		var created string
		if err := rows.Scan(&m.ID, &created, &m.Sampler, &m.Steps, &m.Seed, &m.FinalNorm); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadTrace returns the per-step records of one run in step order.
func (s *Store) LoadTrace(ctx context.Context, runID string) ([]driver.StepRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT idx, sigma, sigma_next, norm, denoised_norm
		FROM run_steps WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []driver.StepRecord
	for rows.Next() {
		var rec driver.StepRecord
		if err := rows.Scan(&rec.Idx, &rec.Sigma, &rec.SigmaNext, &rec.Norm, &rec.DenoisedNorm); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
