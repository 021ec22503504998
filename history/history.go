// Package history keeps a sqlite log of served inferences.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"FoodDetServer/detection"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Inference is one stored detection call.
type Inference struct {
	ID          string                 `json:"id"`
	CreatedAt   time.Time              `json:"created_at"`
	Source      string                 `json:"source"`
	Provenance  string                 `json:"provenance"`
	Total       int                    `json:"total_detections"`
	ClassCounts *detection.ClassCounts `json:"class_counts"`
}

// ClassTotal is the number of objects of one class seen across all inferences.
type ClassTotal struct {
	Class string `json:"class_name"`
	Total int    `json:"total"`
}

// Store wraps the sqlite connection with thread-safe access.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inferences (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		source TEXT NOT NULL,
		provenance TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS inference_classes (
		inference_id TEXT NOT NULL,
		class_name TEXT NOT NULL,
		count INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (inference_id, class_name),
		FOREIGN KEY (inference_id) REFERENCES inferences(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_inferences_created_at ON inferences(created_at);
	CREATE INDEX IF NOT EXISTS idx_inference_classes_class ON inference_classes(class_name);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Record stores inf and its class counts in one transaction. An empty ID or
// zero CreatedAt is filled in.
func (s *Store) Record(ctx context.Context, inf *Inference) error {
	if inf.ID == "" {
		inf.ID = uuid.NewString()
	}
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inferences (id, created_at, source, provenance, total)
		VALUES (?, ?, ?, ?, ?)
	`, inf.ID, inf.CreatedAt.UnixNano(), inf.Source, inf.Provenance, inf.Total); err != nil {
		return fmt.Errorf("failed to insert inference: %w", err)
	}

	if inf.ClassCounts != nil && inf.ClassCounts.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO inference_classes (inference_id, class_name, count, position)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()
		for i, name := range inf.ClassCounts.Names() {
			if _, err := stmt.ExecContext(ctx, inf.ID, name, inf.ClassCounts.Get(name), i); err != nil {
				return fmt.Errorf("failed to insert class count: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Recent returns up to limit inferences, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Inference, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT i.id, i.created_at, i.source, i.provenance, i.total, c.class_name, c.count
		FROM (
			SELECT rowid AS rid, id, created_at, source, provenance, total
			FROM inferences ORDER BY created_at DESC, rowid DESC LIMIT ?
		) i
		LEFT JOIN inference_classes c ON c.inference_id = i.id
		ORDER BY i.created_at DESC, i.rid DESC, c.position
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inferences: %w", err)
	}
	defer rows.Close()

	out := make([]Inference, 0, limit)
	for rows.Next() {
		var (
			id, source, provenance string
			createdAt              int64
			total                  int
			className              sql.NullString
			count                  sql.NullInt64
		)
		if err := rows.Scan(&id, &createdAt, &source, &provenance, &total, &className, &count); err != nil {
			return nil, fmt.Errorf("failed to scan inference: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, Inference{
				ID:          id,
				CreatedAt:   time.Unix(0, createdAt).UTC(),
				Source:      source,
				Provenance:  provenance,
				Total:       total,
				ClassCounts: detection.NewClassCounts(),
			})
		}
		if className.Valid {
			out[len(out)-1].ClassCounts.Add(className.String, int(count.Int64))
		}
	}
	return out, rows.Err()
}

// ClassTotals aggregates class counts over every stored inference, largest
// first and then by name.
func (s *Store) ClassTotals(ctx context.Context) ([]ClassTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT class_name, SUM(count) AS total
		FROM inference_classes
		GROUP BY class_name
		ORDER BY total DESC, class_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query class totals: %w", err)
	}
	defer rows.Close()

	totals := []ClassTotal{}
	for rows.Next() {
		var ct ClassTotal
		if err := rows.Scan(&ct.Class, &ct.Total); err != nil {
			return nil, fmt.Errorf("failed to scan class total: %w", err)
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// Count returns the number of stored inferences.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM inferences`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count inferences: %w", err)
	}
	return n, nil
}
