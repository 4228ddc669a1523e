package model

import "time"

// ResourceKind decides what synchronised items become locally.
type ResourceKind string

const (
	// TaskList items map onto Tasks.
	TaskList ResourceKind = "task_list"
	// EventCalendar items map onto read-only Events.
	EventCalendar ResourceKind = "event_calendar"
)

// Valid reports whether k is a known kind.
func (k ResourceKind) Valid() bool {
	return k == TaskList || k == EventCalendar
}

// Resource is an external calendar or task list configured for sync.
type Resource struct {
	ID          string
	DisplayName string
	// Endpoint is the resource URL returned by discovery.
	Endpoint string
	// Credentials names the account whose token is used to reach Endpoint.
	Credentials string
	Kind        ResourceKind
	CreatedAt   time.Time
}

// Collection is one entry returned by discovery.
type Collection struct {
	DisplayName string
	ResourceURL string
	Kind        ResourceKind
}

// RemoteItem is the protocol-neutral shape of one synchronised item.
type RemoteItem struct {
	ExternalUID  string
	Summary      string
	Due          *time.Time // due date for tasks, start for events
	Completed    bool
	LastModified time.Time
}

// Event is a read-only calendar entry pulled from an event_calendar resource.
type Event struct {
	ResourceID   string
	ExternalUID  string
	Summary      string
	Start        *time.Time
	LastModified time.Time
}
