package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "email", "password_hash", "full_name", "role", "assigned_blocks", "assigned_floors", "active", "last_login", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "floorincharge2.d@kietgroup.com", "hash", "Meena", string(models.RoleFloorIncharge), "{D-Block}", "{2,3}", true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("floorincharge2.d@kietgroup.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "floorincharge2.d@kietgroup.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleFloorIncharge, user.Role)
	assert.Equal(t, []string{"D-Block"}, []string(user.AssignedBlocks))
	assert.Equal(t, []string{"2", "3"}, []string(user.AssignedFloors))

	approver, ok := user.Approver()
	require.True(t, ok)
	assert.True(t, approver.Covers("D-Block", "3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("stu-1", "asha@kiet.edu", "hash", "Asha", string(models.RoleStudent), nil, nil, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Nil(t, user.LastLogin)
	_, ok := user.Approver()
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLastLogin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login = $2")).
		WithArgs("1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLastLogin(context.Background(), "1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserUpsertAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (email) DO UPDATE")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{Email: "warden@kietgroup.com", FullName: "Ravi", Role: models.RoleWarden, Active: true}
	require.NoError(t, repo.Upsert(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
