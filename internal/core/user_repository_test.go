package core

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersRepositoryFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDb := sqlx.NewDb(db, "sqlmock")
	defer sqlxDb.Close()

	repo := NewUsersRepository(sqlxDb)
	userID := NewUserID()
	createdAt := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "avatar_url", "created_at"}).
		AddRow(userID.String(), "Asha", nil, createdAt)
	mock.ExpectQuery(`SELECT id, name, avatar_url, created_at FROM users`).
		WithArgs(userID.String()).
		WillReturnRows(rows)

	user, err := repo.Find(userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "Asha", user.Name)
	assert.Nil(t, user.AvatarURL)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepositoryFindMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDb := sqlx.NewDb(db, "sqlmock")
	defer sqlxDb.Close()

	repo := NewUsersRepository(sqlxDb)
	userID := NewUserID()

	mock.ExpectQuery(`SELECT id, name, avatar_url, created_at FROM users`).
		WithArgs(userID.String()).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Find(userID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryDirectoryFallsBackToBareEntry(t *testing.T) {
	directory := NewMemoryDirectory()

	known := &User{ID: NewUserID(), Name: "Priya"}
	directory.Put(known)

	found, err := directory.Find(known.ID)
	require.NoError(t, err)
	assert.Equal(t, "Priya", found.Name)

	unknownID := NewUserID()
	bare, err := directory.Find(unknownID)
	require.NoError(t, err)
	assert.Equal(t, unknownID, bare.ID)
}
