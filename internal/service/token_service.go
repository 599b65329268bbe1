package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/internal/repository"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
)

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Rotate(ctx context.Context, tokenHash string, now time.Time, mint repository.MintFunc) (*models.RefreshToken, *models.RefreshToken, error)
	RevokeAllForSubject(ctx context.Context, subjectID string, now time.Time) (int64, error)
}

// TokenConfig holds signing material and lifetimes.
type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and rotates session credentials. Access tokens are
// verified by signature alone; refresh tokens are persisted by hash and
// rotated exactly once.
type TokenService struct {
	store   refreshTokenStore
	audit   auditRecorder
	metrics *MetricsService
	logger  *zap.Logger
	config  TokenConfig
	now     func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(store refreshTokenStore, audit auditRecorder, metrics *MetricsService, logger *zap.Logger, cfg TokenConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.AccessSecret
	}
	return &TokenService{store: store, audit: audit, metrics: metrics, logger: logger, config: cfg, now: time.Now}
}

// Issue starts a new token family for subjectID.
func (s *TokenService) Issue(ctx context.Context, subjectID string, meta models.ClientMeta) (*models.TokenPair, error) {
	now := s.now().UTC()
	raw, record, err := s.mintRefresh(subjectID, uuid.NewString(), now, meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create refresh token")
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to persist refresh token")
	}
	return s.pair(subjectID, raw, now)
}

// Rotate exchanges a refresh token for a new pair in the same family.
// Presenting an already rotated token revokes the whole family.
func (s *TokenService) Rotate(ctx context.Context, presented string, meta models.ClientMeta) (*models.TokenPair, error) {
	claims, err := s.parseRefresh(presented)
	if err != nil {
		s.metrics.RecordRotation(OutcomeRejected)
		return nil, err
	}

	now := s.now().UTC()
	var raw string
	current, next, err := s.store.Rotate(ctx, hashToken(presented), now, func(cur *models.RefreshToken) (*models.RefreshToken, error) {
		value, record, err := s.mintRefresh(cur.SubjectID, cur.Family, now, meta)
		if err != nil {
			return nil, err
		}
		raw = value
		return record, nil
	})
	if err != nil {
		return nil, s.rotationError(ctx, claims, current, meta, err)
	}

	pair, err := s.pair(next.SubjectID, raw, now)
	if err != nil {
		s.metrics.RecordRotation(OutcomeError)
		return nil, err
	}

	s.metrics.RecordRotation(OutcomeSuccess)
	s.audit.RecordAsync(ctx, models.AuditLog{
		SubjectID:  next.SubjectID,
		Action:     models.AuditActionTokenRotated,
		Resource:   models.AuditResourceAuth,
		ResourceID: &next.Family,
		Details:    models.AuditDetails{"previous": current.ID, "next": next.ID},
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return pair, nil
}

// RevokeAll revokes every live refresh token of subjectID.
func (s *TokenService) RevokeAll(ctx context.Context, subjectID string) error {
	n, err := s.store.RevokeAllForSubject(ctx, subjectID, s.now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to revoke refresh tokens")
	}
	s.logger.Info("refresh tokens revoked", zap.String("subject_id", subjectID), zap.Int64("count", n))
	return nil
}

// ValidateAccessToken verifies an access token. An expired token yields a
// retryable TOKEN_EXPIRED so clients know to rotate.
func (s *TokenService) ValidateAccessToken(token string) (*models.AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	claims := &models.AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired, "access token has expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTokenInvalid, "invalid access token")
	}
	if !parsed.Valid || claims.Type != models.TokenTypeAccess || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "invalid access token")
	}
	return claims, nil
}

// parseRefresh checks signature and shape only. Expiry is decided by the
// stored record so a known expired token reports TOKEN_EXPIRED.
func (s *TokenService) parseRefresh(token string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.RefreshSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return nil, appErrors.Wrap(err, appErrors.ErrTokenInvalid, "invalid refresh token")
	}
	if claims.Type != models.TokenTypeRefresh || claims.Subject == "" || claims.Family == "" || claims.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "invalid refresh token")
	}
	return claims, nil
}

func (s *TokenService) rotationError(ctx context.Context, claims *models.RefreshClaims, current *models.RefreshToken, meta models.ClientMeta, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.metrics.RecordRotation(OutcomeRejected)
		// Absent records include rotated tokens already swept.
		return appErrors.Clone(appErrors.ErrTokenRevoked, "refresh token has been revoked")
	case errors.Is(err, repository.ErrRefreshTokenExpired):
		s.metrics.RecordRotation(OutcomeRejected)
		expired := appErrors.Clone(appErrors.ErrTokenExpired, "refresh token has expired")
		expired.Retryable = false
		return expired
	case errors.Is(err, repository.ErrRefreshTokenReused):
		subjectID, family := claims.Subject, claims.Family
		if current != nil {
			subjectID, family = current.SubjectID, current.Family
		}
		s.metrics.RecordRotation(OutcomeRejected)
		s.metrics.RecordBreach()
		s.logger.Error("refresh token reuse detected, family revoked",
			zap.String("subject_id", subjectID),
			zap.String("family", family),
			zap.String("ip", meta.IP),
		)
		s.audit.RecordAsync(ctx, models.AuditLog{
			SubjectID:  subjectID,
			Action:     models.AuditActionTokenBreach,
			Resource:   models.AuditResourceAuth,
			ResourceID: &family,
			Details:    models.AuditDetails{"token_id": claims.ID},
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		})
		return appErrors.Clone(appErrors.ErrTokenRevoked, "refresh token has been revoked")
	default:
		s.metrics.RecordRotation(OutcomeError)
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to rotate refresh token")
	}
}

func (s *TokenService) pair(subjectID, refresh string, now time.Time) (*models.TokenPair, error) {
	access, err := s.signAccess(subjectID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create access token")
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
	}, nil
}

func (s *TokenService) signAccess(subjectID string, now time.Time) (string, error) {
	claims := models.AccessClaims{
		Type: models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessSecret))
}

func (s *TokenService) mintRefresh(subjectID, family string, now time.Time, meta models.ClientMeta) (string, *models.RefreshToken, error) {
	id := uuid.NewString()
	expiresAt := now.Add(s.config.RefreshTTL)
	claims := models.RefreshClaims{
		Type:   models.TokenTypeRefresh,
		Family: family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subjectID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return raw, &models.RefreshToken{
		ID:        id,
		SubjectID: subjectID,
		Family:    family,
		TokenHash: hashToken(raw),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
