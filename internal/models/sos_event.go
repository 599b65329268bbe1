package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SOSStatus is the lifecycle state of a safety event.
type SOSStatus string

const (
	SOSStatusActive    SOSStatus = "active"
	SOSStatusCancelled SOSStatus = "cancelled"
	SOSStatusResolved  SOSStatus = "resolved"
)

// Terminal reports whether no further transition is allowed from s.
func (s SOSStatus) Terminal() bool {
	return s == SOSStatusCancelled || s == SOSStatusResolved
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s SOSStatus) CanTransition(to SOSStatus) bool {
	return s == SOSStatusActive && to.Terminal()
}

// SOSAction is an entry type in the embedded audit trail.
type SOSAction string

const (
	SOSActionTriggered SOSAction = "TRIGGERED"
	SOSActionCancelled SOSAction = "CANCELLED"
	SOSActionResolved  SOSAction = "RESOLVED"
)

// AuditEntry is one step of a safety event's embedded history.
type AuditEntry struct {
	Action    SOSAction `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// AuditTrail is stored as a jsonb array and only ever appended to.
type AuditTrail []AuditEntry

// Value implements driver.Valuer.
func (t AuditTrail) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner.
func (t *AuditTrail) Scan(src interface{}) error {
	return scanJSON(src, t)
}

// Recipient is a contact notified when the event was triggered.
type Recipient struct {
	SubjectID string `json:"subjectId"`
	Name      string `json:"name"`
}

// RecipientSnapshot is the immutable recipient list computed at trigger time.
type RecipientSnapshot []Recipient

// Value implements driver.Valuer.
func (r RecipientSnapshot) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *RecipientSnapshot) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// IDs returns the recipient subject ids in snapshot order.
func (r RecipientSnapshot) IDs() []string {
	ids := make([]string, 0, len(r))
	for _, rec := range r {
		ids = append(ids, rec.SubjectID)
	}
	return ids
}

// SOSEvent is a triggered emergency alert and its resolution history.
type SOSEvent struct {
	ID                 string            `db:"id" json:"id"`
	SubjectID          string            `db:"subject_id" json:"subjectId"`
	Status             SOSStatus         `db:"status" json:"status"`
	Latitude           float64           `db:"latitude" json:"latitude"`
	Longitude          float64           `db:"longitude" json:"longitude"`
	TriggeredAt        time.Time         `db:"triggered_at" json:"triggeredAt"`
	CancelledAt        *time.Time        `db:"cancelled_at" json:"cancelledAt,omitempty"`
	ResolvedAt         *time.Time        `db:"resolved_at" json:"resolvedAt,omitempty"`
	CancelReason       *string           `db:"cancel_reason" json:"cancelReason,omitempty"`
	IdempotencyKey     *string           `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	NotifiedRecipients RecipientSnapshot `db:"notified_recipients" json:"notifiedRecipients"`
	AuditTrail         AuditTrail        `db:"audit_trail" json:"auditTrail"`
	Version            int               `db:"version" json:"-"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// EndedAt returns the terminal timestamp, or nil while the event is active.
func (e *SOSEvent) EndedAt() *time.Time {
	switch e.Status {
	case SOSStatusCancelled:
		return e.CancelledAt
	case SOSStatusResolved:
		return e.ResolvedAt
	default:
		return nil
	}
}

// SOSTransition describes a terminal status change applied to the active event.
type SOSTransition struct {
	SubjectID string
	To        SOSStatus
	Action    SOSAction
	At        time.Time
	Reason    *string
}

// CircleStatusEntry reports a linked contact that currently has an active alert.
type CircleStatusEntry struct {
	ContactID   string    `db:"contact_id" json:"contactId"`
	Name        string    `db:"name" json:"name"`
	TriggeredAt time.Time `db:"triggered_at" json:"triggeredAt"`
	Latitude    float64   `db:"latitude" json:"latitude"`
	Longitude   float64   `db:"longitude" json:"longitude"`
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
}
