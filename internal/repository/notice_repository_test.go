package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

func TestNoticeRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNoticeRepository(db)

	mock.ExpectExec("INSERT INTO notices").WillReturnResult(sqlmock.NewResult(1, 1))

	requestID := "req-1"
	notice := &models.Notice{UserID: "stu-1", Title: "Outing Permission Updated", Message: "moved", Type: "permission", RequestID: &requestID}
	require.NoError(t, repo.Create(context.Background(), notice))
	assert.NotEmpty(t, notice.ID)
	assert.False(t, notice.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoticeRepositoryListUnread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNoticeRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "message", "type", "request_id", "read_at", "created_at"}).
		AddRow("n-1", "stu-1", "Home Permission Approved", "done", "permission", "req-1", nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, title, message, type, request_id, read_at, created_at FROM notices WHERE user_id = $1 AND read_at IS NULL ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("stu-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notices WHERE user_id = $1 AND read_at IS NULL")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	notices, total, err := repo.List(context.Background(), models.NoticeFilter{UserID: "stu-1", UnreadOnly: true, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, 11, total)
	require.NotNil(t, notices[0].RequestID)
	assert.Equal(t, "req-1", *notices[0].RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoticeRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNoticeRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notices SET read_at")).
		WithArgs("n-1", "stu-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notices SET read_at")).
		WithArgs("n-1", "stu-2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkRead(context.Background(), "n-1", "stu-1", now))
	require.ErrorIs(t, repo.MarkRead(context.Background(), "n-1", "stu-2", now), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
