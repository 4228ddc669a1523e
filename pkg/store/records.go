package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// --- Documents ---

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var (
		d       = model.Document{ID: id}
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT content, updated_at FROM documents WHERE id = ?`, id).
		Scan(&d.Content, &updated)
	if isNoRows(err) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading document %s: %w", id, err)
	}
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func (s *Store) SaveDocument(ctx context.Context, d *model.Document) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		d.ID, d.Content, formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error saving document %s: %w", d.ID, err)
	}
	return nil
}

// --- Identity maps ---

func (s *Store) LoadIdentityMap(ctx context.Context, documentID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT inline_id, task_id FROM identity_maps WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("error loading identity map: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var inline, task string
		if err := rows.Scan(&inline, &task); err != nil {
			return nil, fmt.Errorf("error scanning identity map: %w", err)
		}
		m[inline] = task
	}
	return m, rows.Err()
}

// SaveIdentityMap replaces the stored map of documentID.
func (s *Store) SaveIdentityMap(ctx context.Context, documentID string, mappings map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identity_maps WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("error clearing identity map: %w", err)
		}
		for inline, task := range mappings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO identity_maps (document_id, inline_id, task_id) VALUES (?, ?, ?)`,
				documentID, inline, task); err != nil {
				return fmt.Errorf("error saving identity map: %w", err)
			}
		}
		return nil
	})
}

// --- Tombstones ---

func (s *Store) AppendTombstone(ctx context.Context, t model.Tombstone) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTombstone(ctx, tx, t)
	})
}

func insertTombstone(ctx context.Context, tx *sql.Tx, t model.Tombstone) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tombstones (external_uid, deleted_at) VALUES (?, ?)`,
		t.ExternalUID, formatTime(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("error adding tombstone for %s: %w", t.ExternalUID, err)
	}
	return nil
}

func (s *Store) HasTombstone(ctx context.Context, externalUID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tombstones WHERE external_uid = ?`, externalUID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error looking up tombstone: %w", err)
	}
	return n > 0, nil
}

func (s *Store) PruneTombstones(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tombstones WHERE deleted_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("error pruning tombstones: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// --- Resources ---

func (s *Store) CreateResource(ctx context.Context, r *model.Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, display_name, endpoint, credentials, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.DisplayName, r.Endpoint, r.Credentials, string(r.Kind), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("error adding resource %s: %w", r.DisplayName, err)
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, endpoint, credentials, kind, created_at FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if isNoRows(err) {
		return nil, notFound("resource", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading resource %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context) ([]*model.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, endpoint, credentials, kind, created_at FROM resources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("error loading resources: %w", err)
	}
	defer rows.Close()

	var out []*model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning resources: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResource removes the resource and, through the foreign key, its
// events.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting resource %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("resource", id)
	}
	return nil
}

func scanResource(row rowScanner) (*model.Resource, error) {
	var (
		r       model.Resource
		kind    string
		created string
	)
	if err := row.Scan(&r.ID, &r.DisplayName, &r.Endpoint, &r.Credentials, &kind, &created); err != nil {
		return nil, err
	}
	r.Kind = model.ResourceKind(kind)
	r.CreatedAt = parseTime(created)
	return &r, nil
}

// --- Events ---

// ReplaceEvents makes events the complete set stored for resourceID.
func (s *Store) ReplaceEvents(ctx context.Context, resourceID string, events []model.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE resource_id = ?`, resourceID); err != nil {
			return fmt.Errorf("error clearing events of %s: %w", resourceID, err)
		}
		for _, e := range events {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO events (resource_id, external_uid, summary, start, last_modified)
				VALUES (?, ?, ?, ?, ?)`,
				resourceID, e.ExternalUID, e.Summary, formatDay(e.Start), formatTime(e.LastModified)); err != nil {
				return fmt.Errorf("error saving event %s: %w", e.ExternalUID, err)
			}
		}
		return nil
	})
}

func (s *Store) ListEvents(ctx context.Context, resourceID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_uid, summary, start, last_modified FROM events
		WHERE resource_id = ? ORDER BY start IS NULL, start`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("error loading events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e        = model.Event{ResourceID: resourceID}
			start    sql.NullString
			modified string
		)
		if err := rows.Scan(&e.ExternalUID, &e.Summary, &start, &modified); err != nil {
			return nil, fmt.Errorf("error scanning events: %w", err)
		}
		e.Start = parseDay(start)
		e.LastModified = parseTime(modified)
		out = append(out, e)
	}
	return out, rows.Err()
}
