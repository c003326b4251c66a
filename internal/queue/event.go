// Package queue defines the casting events exchanged over the message
// broker and the consumer that records them.
package queue

import "time"

// Resources and actions that make up an event type such as "movie.created".
const (
	ResourceMovie = "movie"
	ResourceActor = "actor"

	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// CastingEvent is published after every successful create, update or
// delete. Data holds the resource as it was returned to the client; it is
// omitted for deletions.
type CastingEvent struct {
	Type       string    `json:"type"`
	Resource   string    `json:"resource"`
	ResourceID int64     `json:"resource_id"`
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// NewEvent stamps an event for resource/action at the current time.
func NewEvent(resource, action string, id int64, subject string, data any) CastingEvent {
	return CastingEvent{
		Type:       resource + "." + action,
		Resource:   resource,
		ResourceID: id,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}
