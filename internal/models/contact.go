package models

import "time"

// ContactStatusAccepted marks a contact link both parties agreed to.
const ContactStatusAccepted = "accepted"

// EmergencyContact links an owner to someone in their safety circle.
// ContactUserID is nil when the contact has no account.
type EmergencyContact struct {
	ID            string    `db:"id" json:"id"`
	OwnerID       string    `db:"owner_id" json:"ownerId"`
	ContactUserID *string   `db:"contact_user_id" json:"contactUserId,omitempty"`
	Name          string    `db:"name" json:"name"`
	Phone         string    `db:"phone" json:"phone"`
	IsPrimary     bool      `db:"is_primary" json:"isPrimary"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// LinkedContact is a user related to a subject through an accepted contact
// link in either direction.
type LinkedContact struct {
	UserID string `db:"user_id" json:"userId"`
	Name   string `db:"name" json:"name"`
}
