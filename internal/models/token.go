package models

import "time"

// RefreshToken is a persisted refresh credential. Only the SHA-256 hash of the
// presented value is stored.
type RefreshToken struct {
	ID         string     `db:"id" json:"id"`
	SubjectID  string     `db:"subject_id" json:"subjectId"`
	Family     string     `db:"family" json:"family"`
	TokenHash  string     `db:"token_hash" json:"-"`
	IssuedAt   time.Time  `db:"issued_at" json:"issuedAt"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	ReplacedBy *string    `db:"replaced_by" json:"replacedBy,omitempty"`
	IPAddress  string     `db:"ip_address" json:"ipAddress"`
	UserAgent  string     `db:"user_agent" json:"userAgent"`
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
