// Package history records evaluations (command sent, output captured) per
// session in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/peterje/rootrepl/internal/models"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record inserts e, filling ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, e models.Evaluation) (models.Evaluation, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, session, backend, command, output, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Session, e.Backend, e.Command, e.Output, e.Error, e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("record evaluation: %w", err)
	}
	return e, nil
}

// List returns up to limit evaluations, newest first. An empty session
// lists all sessions; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, session string, limit int) ([]models.Evaluation, error) {
	query := `SELECT id, session, backend, command, output, error, created_at FROM evaluations`
	var args []any
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []models.Evaluation{}
	for rows.Next() {
		var e models.Evaluation
		if err := rows.Scan(&e.ID, &e.Session, &e.Backend, &e.Command, &e.Output, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// Clear deletes the history of session, or all history if session is empty.
func (s *Store) Clear(ctx context.Context, session string) (int64, error) {
	var res sql.Result
	var err error
	if session == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM evaluations`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE session = ?`, session)
	}
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}
