package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/repository"
	"github.com/stretchr/testify/require"
)

func newUsers(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewUserRepository(db, "US")
	repo.now = func() time.Time { return fixed }
	return repo, mock
}

func TestUserRepository_UpsertNormalises(t *testing.T) {
	repo, mock := newUsers(t)
	created := fixed.Add(-time.Hour)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("u1", "user", "Dana Reyes", "dana@example.com", "+16502530000", fixed).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, fixed))

	u := &user.User{ID: "u1", Type: user.TypeCitizen, FullName: " Dana Reyes ", Email: "Dana@Example.com", Phone: strPtr("650-253-0000")}
	require.NoError(t, repo.Upsert(context.Background(), u))
	require.Equal(t, "+16502530000", *u.Phone)
	require.Equal(t, created, u.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpsertRejectsBadInput(t *testing.T) {
	repo, mock := newUsers(t)

	err := repo.Upsert(context.Background(), &user.User{ID: "u1", Type: "admin"})
	require.ErrorIs(t, err, user.ErrInvalidInput)

	err = repo.Upsert(context.Background(), &user.User{ID: "u1", Type: user.TypeCitizen, Phone: strPtr("12")})
	require.ErrorIs(t, err, user.ErrInvalidInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Get(t *testing.T) {
	repo, mock := newUsers(t)

	mock.ExpectQuery("SELECT id, user_type").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_type", "full_name", "email", "phone", "created_at", "updated_at"}).
			AddRow("e1", "employee", "Sam Ortiz", "sam@city.gov", nil, fixed, fixed))
	mock.ExpectQuery("SELECT id, user_type").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	u, err := repo.Get(context.Background(), "e1")
	require.NoError(t, err)
	require.True(t, u.IsEmployee())
	require.Nil(t, u.Phone)

	_, err = repo.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
