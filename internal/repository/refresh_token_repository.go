package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/safecircle-api/internal/models"
)

const refreshTokenColumns = `id, subject_id, family, token_hash, issued_at, expires_at, revoked, revoked_at, replaced_by, ip_address, user_agent`

// MintFunc builds the successor of current. It runs inside the rotation
// transaction while current is locked.
type MintFunc func(current *models.RefreshToken) (*models.RefreshToken, error)

// RefreshTokenRepository stores hashed refresh credentials grouped by family.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository constructs the repository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
VALUES (:id, :subject_id, :family, :token_hash, :issued_at, :expires_at, :revoked, :revoked_at, :replaced_by, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Rotate looks up the token by hash under a row lock and either rotates it or
// reports why it can't. A revoked token revokes its whole family and the
// revocation is committed before ErrRefreshTokenReused is returned. The
// returned current token is set whenever the hash matched a row.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, tokenHash string, now time.Time, mint MintFunc) (current *models.RefreshToken, next *models.RefreshToken, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin rotation transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectQuery = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`
	var locked models.RefreshToken
	if err = tx.GetContext(ctx, &locked, selectQuery, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock refresh token: %w", err)
	}
	current = &locked

	if current.Revoked {
		if _, err = revokeFamily(ctx, tx, current.Family, now); err != nil {
			return current, nil, err
		}
		if err = tx.Commit(); err != nil {
			return current, nil, fmt.Errorf("commit family revocation: %w", err)
		}
		committed = true
		return current, nil, ErrRefreshTokenReused
	}

	if current.Expired(now) {
		return current, nil, ErrRefreshTokenExpired
	}

	next, err = mint(current)
	if err != nil {
		return current, nil, err
	}

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, revokeQuery, current.ID, now, next.ID)
	if err != nil {
		return current, nil, fmt.Errorf("revoke rotated refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return current, nil, fmt.Errorf("revoke rotated refresh token: %w", err)
	}
	if affected == 0 {
		return current, nil, ErrRefreshTokenReused
	}

	const insertQuery = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL, NULL, $7, $8)`
	if _, err = tx.ExecContext(ctx, insertQuery, next.ID, next.SubjectID, next.Family, next.TokenHash, next.IssuedAt, next.ExpiresAt, next.IPAddress, next.UserAgent); err != nil {
		return current, nil, fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return current, nil, fmt.Errorf("commit rotation: %w", err)
	}
	committed = true

	revokedAt := now
	current.Revoked = true
	current.RevokedAt = &revokedAt
	current.ReplacedBy = &next.ID
	return current, next, nil
}

// RevokeAllForSubject revokes every live token of the subject.
func (r *RefreshTokenRepository) RevokeAllForSubject(ctx context.Context, subjectID string, now time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE subject_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, subjectID, now)
	if err != nil {
		return 0, fmt.Errorf("revoke subject refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStale hard-deletes tokens that expired before expiredBefore or were
// revoked before revokedBefore.
func (r *RefreshTokenRepository) DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked = TRUE AND revoked_at < $2)`
	res, err := r.db.ExecContext(ctx, query, expiredBefore, revokedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func revokeFamily(ctx context.Context, tx *sqlx.Tx, family string, now time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE family = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, query, family, now)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token family: %w", err)
	}
	return res.RowsAffected()
}
