package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AuditAction constants represent actions recorded in the external audit trail.
const (
	AuditActionLogin         = "LOGIN"
	AuditActionLogout        = "LOGOUT"
	AuditActionTokenRotated  = "TOKEN_ROTATED"
	AuditActionTokenBreach   = "TOKEN_REUSE_DETECTED"
	AuditActionSOSTriggered  = "SOS_TRIGGERED"
	AuditActionSOSCancelled  = "SOS_CANCELLED"
	AuditActionSOSResolved   = "SOS_RESOLVED"
	AuditResourceAuth        = "auth"
	AuditResourceSafetyEvent = "sos_event"
)

// AuditDetails is a flat, typed key/value payload stored as jsonb.
type AuditDetails map[string]string

// Value implements driver.Valuer.
func (d AuditDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *AuditDetails) Scan(src interface{}) error {
	return scanJSON(src, d)
}

// AuditLog is an immutable audit trail record.
type AuditLog struct {
	ID            string       `db:"id" json:"id"`
	SubjectID     string       `db:"subject_id" json:"subjectId"`
	CorrelationID string       `db:"correlation_id" json:"correlationId,omitempty"`
	Action        string       `db:"action" json:"action"`
	Resource      string       `db:"resource" json:"resource"`
	ResourceID    *string      `db:"resource_id" json:"resourceId,omitempty"`
	Details       AuditDetails `db:"details" json:"details,omitempty"`
	IPAddress     string       `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent     string       `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
}

// AuditFilter selects audit records by exactly one dimension.
type AuditFilter struct {
	SubjectID     string
	CorrelationID string
	Resource      string
	ResourceID    string
	Limit         int
}
