package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/safecircle-api/internal/models"
)

// ContactRepository reads the contact directory. Contacts are managed
// elsewhere; this service never writes them.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// FindPrimaryContacts returns the owner's accepted primary contacts that have an account.
func (r *ContactRepository) FindPrimaryContacts(ctx context.Context, ownerID string) ([]models.EmergencyContact, error) {
	const query = `SELECT id, owner_id, contact_user_id, name, phone, is_primary, status, created_at FROM emergency_contacts WHERE owner_id = $1 AND is_primary = TRUE AND status = 'accepted' AND contact_user_id IS NOT NULL ORDER BY created_at ASC, id ASC`
	var contacts []models.EmergencyContact
	if err := r.db.SelectContext(ctx, &contacts, query, ownerID); err != nil {
		return nil, fmt.Errorf("find primary contacts: %w", err)
	}
	return contacts, nil
}

// FindLinkedContacts returns users who list subjectID as an accepted contact
// and are listed by subjectID in return.
func (r *ContactRepository) FindLinkedContacts(ctx context.Context, subjectID string) ([]models.LinkedContact, error) {
	const query = `SELECT u.id AS user_id, u.full_name AS name
FROM emergency_contacts mine
JOIN emergency_contacts theirs ON theirs.owner_id = mine.contact_user_id AND theirs.contact_user_id = mine.owner_id
JOIN users u ON u.id = mine.contact_user_id
WHERE mine.owner_id = $1 AND mine.status = 'accepted' AND theirs.status = 'accepted'
GROUP BY u.id, u.full_name
ORDER BY u.full_name ASC`
	var contacts []models.LinkedContact
	if err := r.db.SelectContext(ctx, &contacts, query, subjectID); err != nil {
		return nil, fmt.Errorf("find linked contacts: %w", err)
	}
	return contacts, nil
}
