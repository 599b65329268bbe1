// Package realtime delivers circle notifications to connected subjects.
package realtime

import (
	"context"
	"time"
)

// Event names emitted to a subject's circle.
const (
	EventSOSTriggered = "sos:triggered"
	EventSOSCancelled = "sos:cancelled"
	EventSOSResolved  = "sos:resolved"
)

// Message is the envelope published to each recipient.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sentAt"`
}

// Channel pushes an event to a set of subjects. Implementations are
// best-effort: a returned error means at least one recipient was missed.
type Channel interface {
	EmitToSubjects(ctx context.Context, subjectIDs []string, event string, payload interface{}) error
}
