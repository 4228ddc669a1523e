// Package store keeps tasks, documents, identity maps, tombstones and sync
// resources in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// pure Go sqlite driver, registered as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

//go:embed base.sql
var baseSQL string

// fixed width so stored timestamps also sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed persistent store.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the database at path, creating the file and the schema
// when missing.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("error creating db directory: %w", err)
	}

	// pragmas go in the DSN so every pooled connection gets them
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("error connecting to sqlite db at %s: %w", path, err)
	}

	if _, err := db.Exec(baseSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error running base sql: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// formatDay keeps the offset so calendar arithmetic on a reloaded due date
// happens in the day it was written for.
func formatDay(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}

func parseDay(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
