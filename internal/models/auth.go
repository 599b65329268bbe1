package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenPair is returned by issuance and rotation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// AccessClaims is the stateless access credential payload.
type AccessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// SubjectID returns the authenticated subject.
func (c *AccessClaims) SubjectID() string {
	return c.Subject
}

// RefreshClaims is the signed refresh credential payload. Family groups a
// lineage of rotations.
type RefreshClaims struct {
	Type   string `json:"typ"`
	Family string `json:"fam"`
	jwt.RegisteredClaims
}

// ClientMeta describes the caller of an auth operation.
type ClientMeta struct {
	IP        string
	UserAgent string
}
