package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lmeve2/internal/model"
)

var userRowColumns = []string{"username", "password_hash", "role", "is_active", "character_id", "character_name",
	"corporation_id", "access_token", "refresh_token", "token_expires", "scopes", "last_login", "created_at", "updated_at"}

func TestGetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=? LIMIT 1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			"admin", "hash", "admin", true, int64(90000001), "Pilot", nil, "", "rt", now, "", nil, now, now))

	u, err := NewUserRepo(db).GetByUsername(context.Background(), "  admin ")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.True(t, u.IsActive)
	require.NotNil(t, u.CharacterID)
	assert.Equal(t, int64(90000001), *u.CharacterID)
	assert.Nil(t, u.CorporationID)
	assert.True(t, u.HasSession())
	assert.Nil(t, u.LastLogin)
}

func TestGetByUsernameNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM users WHERE username").WillReturnRows(sqlmock.NewRows(userRowColumns))
	_, err = NewUserRepo(db).GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpsertSessionReportsInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	exp := time.Date(2026, 5, 1, 12, 20, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WithArgs("Pilot", int64(90000001), "Pilot", nil, "at", "rt", exp, "esi-assets.read_assets.v1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	repo := NewUserRepo(db)
	s := model.Session{Username: "Pilot", CharacterID: 90000001, CharacterName: "Pilot",
		AccessToken: "at", RefreshToken: "rt", TokenExpires: exp, Scopes: "esi-assets.read_assets.v1"}
	created, err := repo.UpsertSession(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.UpsertSession(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAccountKeepsHashWhenEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,role,is_active) VALUES (?,?,?)")).
		WithArgs("bob", model.RoleMember, true).
		WillReturnResult(sqlmock.NewResult(0, 2))

	created, err := NewUserRepo(db).UpsertAccount(context.Background(), model.Account{Username: "bob", Role: model.RoleMember, IsActive: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_active=? WHERE username=?")).
		WithArgs(false, "bob").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetActive(context.Background(), "bob", false))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_active=?")).
		WithArgs(false, "ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM users WHERE username").WillReturnRows(sqlmock.NewRows(userRowColumns))
	assert.ErrorIs(t, repo.SetActive(context.Background(), "ghost", false), ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"users", "sessions"}).AddRow(7, 3))
	users, sessions, err := NewUserRepo(db).Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, users)
	assert.EqualValues(t, 3, sessions)
}
