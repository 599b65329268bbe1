package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/internal/repository"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type sessionIssuer interface {
	Issue(ctx context.Context, subjectID string, meta models.ClientMeta) (*models.TokenPair, error)
	Rotate(ctx context.Context, presented string, meta models.ClientMeta) (*models.TokenPair, error)
	RevokeAll(ctx context.Context, subjectID string) error
}

// AuthService provides login, refresh and logout use cases.
type AuthService struct {
	repo      authUserRepository
	tokens    sessionIssuer
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, tokens sessionIssuer, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{repo: repo, tokens: tokens, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// Login authenticates a user and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest, meta models.ClientMeta) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid email or password")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
	}

	pair, err := s.tokens.Issue(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.String("subject_id", user.ID), zap.Error(err))
	}

	s.audit.RecordAsync(ctx, models.AuditLog{
		SubjectID:  user.ID,
		Action:     models.AuditActionLogin,
		Resource:   models.AuditResourceAuth,
		ResourceID: &user.ID,
		Details:    models.AuditDetails{"status": "success"},
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return pair, nil
}

// Refresh rotates a refresh token.
func (s *AuthService) Refresh(ctx context.Context, req dto.RefreshRequest, meta models.ClientMeta) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid refresh payload")
	}
	return s.tokens.Rotate(ctx, req.RefreshToken, meta)
}

// Logout revokes every refresh token of the subject.
func (s *AuthService) Logout(ctx context.Context, subjectID string, meta models.ClientMeta) error {
	if err := s.tokens.RevokeAll(ctx, subjectID); err != nil {
		return err
	}
	s.audit.RecordAsync(ctx, models.AuditLog{
		SubjectID:  subjectID,
		Action:     models.AuditActionLogout,
		Resource:   models.AuditResourceAuth,
		ResourceID: &subjectID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}
