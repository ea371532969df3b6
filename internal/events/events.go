// Package events publishes pipeline outcomes for downstream consumers. A
// sink is fire-and-forget from the pipeline's point of view: emission
// failures are logged, never retried, and never fail the message.
package events

import (
	"context"
	"time"
)

// Event types emitted by the pipeline.
const (
	TypeProcessingCompleted = "email.processing.completed"
	TypeTaskAutoApproved    = "task.auto_approved"
	TypeDealAutoApproved    = "deal.auto_approved"
	TypeTasksRequireReview  = "tasks.require_review"
	TypeDealsRequireReview  = "deals.require_review"
)

// Event is one pipeline notification.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// New builds an event stamped with the current time.
func New(eventType string, fields map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields:    fields,
	}
}

// Sink receives pipeline events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}
