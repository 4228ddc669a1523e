package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

const taskColumns = `id, content, status, due, rule, resource_id, external_uid, synced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateTask inserts t, assigning an id when it has none.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	prepareTask(t)
	rule, err := encodeRule(t.Rule)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTask(ctx, tx, t, rule)
	})
}

// UpdateTask overwrites every field of the stored task t.ID.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	rule, err := encodeRule(t.Rule)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateTask(ctx, tx, t, rule)
	})
}

// SpawnSuccessor writes the completed task and inserts its successor in one
// transaction. Either both land or neither does.
func (s *Store) SpawnSuccessor(ctx context.Context, completed, successor *model.Task) error {
	prepareTask(successor)
	doneRule, err := encodeRule(completed.Rule)
	if err != nil {
		return err
	}
	nextRule, err := encodeRule(successor.Rule)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateTask(ctx, tx, completed, doneRule); err != nil {
			return err
		}
		return insertTask(ctx, tx, successor, nextRule)
	})
}

// DeleteTask removes the task and its context links.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteTask(ctx, tx, id)
	})
}

// DeleteTaskWithTombstone removes the task and appends the tombstone in one
// transaction. A tombstone with an empty uid is not written.
func (s *Store) DeleteTaskWithTombstone(ctx context.Context, id string, stone model.Tombstone) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteTask(ctx, tx, id); err != nil {
			return err
		}
		if stone.ExternalUID == "" {
			return nil
		}
		return insertTombstone(ctx, tx, stone)
	})
}

func prepareTask(t *model.Task) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = model.StatusTodo
	}
}

func insertTask(ctx context.Context, tx *sql.Tx, t *model.Task, rule sql.NullString) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Content, string(t.Status), formatDay(t.Due), rule,
		t.ResourceID, t.ExternalUID, formatTime(t.SyncedAt),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("error adding task for %s: %w", t.ExternalUID, model.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error adding task: %w", err)
	}
	return writeContexts(ctx, tx, t)
}

func updateTask(ctx context.Context, tx *sql.Tx, t *model.Task, rule sql.NullString) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET content = ?, status = ?, due = ?, rule = ?, resource_id = ?,
			external_uid = ?, synced_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Content, string(t.Status), formatDay(t.Due), rule, t.ResourceID,
		t.ExternalUID, formatTime(t.SyncedAt), formatTime(t.UpdatedAt), t.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("error updating task %s: %w", t.ID, model.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error updating task %s: %w", t.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("task", t.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_contexts WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("error clearing contexts of %s: %w", t.ID, err)
	}
	return writeContexts(ctx, tx, t)
}

func deleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting task %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("task", id)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if isNoRows(err) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading task %s: %w", id, err)
	}
	if err := s.loadContexts(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTaskByExternalUID finds the task that mirrors uid on resourceID.
func (s *Store) GetTaskByExternalUID(ctx context.Context, resourceID, uid string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE resource_id = ? AND external_uid = ?`, resourceID, uid)
	t, err := scanTask(row)
	if isNoRows(err) {
		return nil, notFound("external uid", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading task for %s: %w", uid, err)
	}
	if err := s.loadContexts(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns every task, open ones first, by due date.
func (s *Store) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		ORDER BY status = 'done', due IS NULL, due, created_at`)
}

// ListTasksByResource returns the tasks linked to resourceID.
func (s *Store) ListTasksByResource(ctx context.Context, resourceID string) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE resource_id = ? ORDER BY created_at`, resourceID)
}

// ListTasksByDocument returns the tasks linked to documentID.
func (s *Store) ListTasksByDocument(ctx context.Context, documentID string) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+prefixed("t.")+` FROM tasks t
		JOIN task_contexts c ON c.task_id = t.id
		WHERE c.document_id = ? ORDER BY t.created_at`, documentID)
}

// UnlinkResource detaches every task from resourceID so they stay local.
func (s *Store) UnlinkResource(ctx context.Context, resourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET resource_id = '', external_uid = '', synced_at = '' WHERE resource_id = ?`, resourceID)
	if err != nil {
		return fmt.Errorf("error unlinking tasks from %s: %w", resourceID, err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error loading tasks: %w", err)
	}
	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error scanning tasks: %w", err)
	}

	for _, t := range tasks {
		if err := s.loadContexts(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *Store) loadContexts(ctx context.Context, t *model.Task) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id FROM task_contexts WHERE task_id = ? ORDER BY document_id`, t.ID)
	if err != nil {
		return fmt.Errorf("error loading contexts of %s: %w", t.ID, err)
	}
	defer rows.Close()

	t.Contexts = nil
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return fmt.Errorf("error scanning contexts of %s: %w", t.ID, err)
		}
		t.Contexts = append(t.Contexts, doc)
	}
	return rows.Err()
}

func writeContexts(ctx context.Context, tx *sql.Tx, t *model.Task) error {
	for _, doc := range t.Contexts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_contexts (task_id, document_id) VALUES (?, ?)`, t.ID, doc); err != nil {
			return fmt.Errorf("error linking %s to %s: %w", t.ID, doc, err)
		}
	}
	return nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t                            model.Task
		status                       string
		due, rule                    sql.NullString
		syncedAt, createdAt, updated string
	)
	if err := row.Scan(&t.ID, &t.Content, &status, &due, &rule, &t.ResourceID, &t.ExternalUID,
		&syncedAt, &createdAt, &updated); err != nil {
		return nil, err
	}
	t.Status = model.Status(status)
	t.Due = parseDay(due)
	t.SyncedAt = parseTime(syncedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updated)
	if rule.Valid && rule.String != "" {
		var r model.RecurrenceRule
		if err := json.Unmarshal([]byte(rule.String), &r); err != nil {
			// the task stays usable; it just no longer repeats
			log.Warn().Err(err).Str("task_id", t.ID).Str("rule", rule.String).Msg("ignoring malformed recurrence rule")
		} else {
			t.Rule = &r
		}
	}
	return &t, nil
}

func encodeRule(r *model.RecurrenceRule) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("error encoding rule: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func prefixed(p string) string {
	return p + `id, ` + p + `content, ` + p + `status, ` + p + `due, ` + p + `rule, ` +
		p + `resource_id, ` + p + `external_uid, ` + p + `synced_at, ` + p + `created_at, ` + p + `updated_at`
}
