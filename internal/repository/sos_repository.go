package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/pkg/database"
)

const sosColumns = `id, subject_id, status, latitude, longitude, triggered_at, cancelled_at, resolved_at, cancel_reason, idempotency_key, notified_recipients, audit_trail, version, created_at, updated_at`

// SOSRepository persists safety events. Uniqueness of idempotency keys and of
// the active event per subject is enforced by the database.
type SOSRepository struct {
	db *sqlx.DB
}

// NewSOSRepository constructs the repository.
func NewSOSRepository(db *sqlx.DB) *SOSRepository {
	return &SOSRepository{db: db}
}

// Create inserts a new event. Unique violations are mapped to
// ErrDuplicateIdempotencyKey or ErrActiveEventExists.
func (r *SOSRepository) Create(ctx context.Context, event *models.SOSEvent) error {
	const query = `INSERT INTO sos_events (` + sosColumns + `)
VALUES (:id, :subject_id, :status, :latitude, :longitude, :triggered_at, :cancelled_at, :resolved_at, :cancel_reason, :idempotency_key, :notified_recipients, :audit_trail, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case constraintIdempotencyKey:
				return ErrDuplicateIdempotencyKey
			case constraintOneActive:
				return ErrActiveEventExists
			}
		}
		return fmt.Errorf("insert sos event: %w", err)
	}
	return nil
}

// FindByIdempotencyKey returns the event created with key, whatever its status.
func (r *SOSRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.SOSEvent, error) {
	const query = `SELECT ` + sosColumns + ` FROM sos_events WHERE idempotency_key = $1 LIMIT 1`
	return r.getOne(ctx, "find sos event by idempotency key", query, key)
}

// FindActive returns the subject's active event.
func (r *SOSRepository) FindActive(ctx context.Context, subjectID string) (*models.SOSEvent, error) {
	const query = `SELECT ` + sosColumns + ` FROM sos_events WHERE subject_id = $1 AND status = 'active' LIMIT 1`
	return r.getOne(ctx, "find active sos event", query, subjectID)
}

// History lists the subject's events, most recent first.
func (r *SOSRepository) History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error) {
	const query = `SELECT ` + sosColumns + ` FROM sos_events WHERE subject_id = $1 ORDER BY triggered_at DESC, id DESC LIMIT $2`
	var events []models.SOSEvent
	if err := r.db.SelectContext(ctx, &events, query, subjectID, limit); err != nil {
		return nil, fmt.Errorf("list sos history: %w", err)
	}
	return events, nil
}

// FindActiveBySubjects returns the active events among subjectIDs.
func (r *SOSRepository) FindActiveBySubjects(ctx context.Context, subjectIDs []string) ([]models.SOSEvent, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + sosColumns + ` FROM sos_events WHERE subject_id = ANY($1) AND status = 'active'`
	var events []models.SOSEvent
	if err := r.db.SelectContext(ctx, &events, query, pq.Array(subjectIDs)); err != nil {
		return nil, fmt.Errorf("find active sos events by subjects: %w", err)
	}
	return events, nil
}

// Transition moves the subject's active event to a terminal status. The
// status check and the write are one statement, so of two racing
// transitions exactly one matches the row; the other gets ErrEventNotActive.
// Terminal timestamps never precede triggered_at.
func (r *SOSRepository) Transition(ctx context.Context, t models.SOSTransition) (*models.SOSEvent, error) {
	if !models.SOSStatusActive.CanTransition(t.To) {
		return nil, fmt.Errorf("invalid sos transition to %q", t.To)
	}
	const query = `UPDATE sos_events SET
	status = $2::text,
	cancelled_at = CASE WHEN $2::text = 'cancelled' THEN GREATEST($3::timestamptz, triggered_at) ELSE cancelled_at END,
	resolved_at = CASE WHEN $2::text = 'resolved' THEN GREATEST($3::timestamptz, triggered_at) ELSE resolved_at END,
	cancel_reason = COALESCE($4::text, cancel_reason),
	audit_trail = audit_trail || jsonb_build_array(jsonb_strip_nulls(jsonb_build_object('action', $5::text, 'timestamp', GREATEST($3::timestamptz, triggered_at), 'detail', $4::text))),
	version = version + 1,
	updated_at = $3::timestamptz
WHERE subject_id = $1 AND status = 'active'
RETURNING ` + sosColumns

	var event models.SOSEvent
	if err := r.db.GetContext(ctx, &event, query, t.SubjectID, string(t.To), t.At, t.Reason, string(t.Action)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotActive
		}
		return nil, fmt.Errorf("transition sos event: %w", err)
	}
	return &event, nil
}

func (r *SOSRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*models.SOSEvent, error) {
	var event models.SOSEvent
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &event, nil
}
