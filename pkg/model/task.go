package model

import (
	"errors"
	"time"
)

// Status is the completion state of a Task.
type Status string

const (
	StatusTodo Status = "todo"
	StatusDone Status = "done"
)

// Task is the canonical, persistent unit of work.
type Task struct {
	ID       string
	Content  string
	Status   Status
	Due      *time.Time
	Rule     *RecurrenceRule
	Contexts []string // ids of the documents the task is linked to

	// Sync state, empty for tasks that never left this machine.
	ResourceID  string
	ExternalUID string
	SyncedAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether the task is completed.
func (t *Task) Done() bool {
	return t.Status == StatusDone
}

// HasContext reports whether the task is linked to the given document.
func (t *Task) HasContext(documentID string) bool {
	for _, c := range t.Contexts {
		if c == documentID {
			return true
		}
	}
	return false
}

// LocallyModified reports whether the task changed since it was last
// written to or read from its external resource.
func (t *Task) LocallyModified() bool {
	if t.ResourceID == "" {
		return false
	}
	return t.ExternalUID == "" || t.UpdatedAt.After(t.SyncedAt)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Due != nil {
		due := *t.Due
		c.Due = &due
	}
	if t.Rule != nil {
		c.Rule = t.Rule.Clone()
	}
	c.Contexts = append([]string(nil), t.Contexts...)
	return &c
}

// SameDue compares two optional due dates.
func SameDue(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Mention is a task-like line found in a document during one parse. It is
// never persisted on its own.
type Mention struct {
	InlineID string
	Content  string
	Done     bool
	RawDue   string
	Due      *time.Time
	// Start and End are byte offsets of the line in the annotated text.
	Start int
	End   int
}

// Tombstone suppresses re-creation of a deleted, externally sourced task.
type Tombstone struct {
	ExternalUID string
	DeletedAt   time.Time
}

// Document is a free-form text that may embed task lines.
type Document struct {
	ID        string
	Content   string
	UpdatedAt time.Time
}

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would give an external UID a
	// second task within one resource.
	ErrConflict = errors.New("external uid already claimed")
)
