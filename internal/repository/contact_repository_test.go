package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPrimaryContacts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM emergency_contacts WHERE owner_id = $1 AND is_primary = TRUE AND status = 'accepted'")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "contact_user_id", "name", "phone", "is_primary", "status", "created_at"}).
			AddRow("c1", "u1", "u2", "Bob", "+620000", true, "accepted", now))

	contacts, err := repo.FindPrimaryContacts(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.NotNil(t, contacts[0].ContactUserID)
	assert.Equal(t, "u2", *contacts[0].ContactUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLinkedContacts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN emergency_contacts theirs ON theirs.owner_id = mine.contact_user_id AND theirs.contact_user_id = mine.owner_id")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name"}).
			AddRow("u2", "Bob").
			AddRow("u3", "Carol"))

	contacts, err := repo.FindLinkedContacts(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Carol", contacts[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
