package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

var permissionRowColumns = []string{"id", "kind", "student_id", "hostel_block", "floor", "category", "payload", "routed_to", "path",
	"current_level", "status", "approval_log", "credentials", "version", "created_at", "updated_at"}

func pendingRow(rows *sqlmock.Rows, id string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "outing", "stu-1", "D-Block", "2", "normal",
		`{"purpose":"market","parent_phone":"9876543210","out_time":"10:00","return_time":"18:00"}`,
		`{"year":"2nd","floor_incharge_email":"floorincharge2.d@kietgroup.com"}`,
		`["floor-incharge","hostel-incharge","warden"]`,
		"floor-incharge", "pending", `[]`, nil, 1, now, now)
}

func TestPermissionRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO permission_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.PermissionRequest{
		Kind:         models.PermissionOuting,
		StudentID:    "stu-1",
		HostelBlock:  "D-Block",
		Floor:        "2",
		Category:     models.CategoryNormal,
		Path:         models.ApprovalPath{models.ApproverFloorIncharge, models.ApproverHostelIncharge, models.ApproverWarden},
		CurrentLevel: "floor-incharge",
		Status:       models.PermissionPending,
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	assert.Equal(t, 1, req.Version)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, student_id")).
		WithArgs(req.ID).
		WillReturnRows(pendingRow(sqlmock.NewRows(permissionRowColumns), req.ID, now))

	found, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)
	assert.Equal(t, "market", found.Payload.Purpose)
	assert.Equal(t, "2nd", found.RoutedTo.Year)
	assert.Equal(t, models.ApproverHostelIncharge, found.Path[1])
	assert.Empty(t, found.ApprovalLog)
	assert.Nil(t, found.Credentials)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO permission_requests")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &models.PermissionRequest{StudentID: "stu-1"})
	require.ErrorIs(t, err, ErrActivePermissionExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositoryFindPendingNone(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM permission_requests")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows(permissionRowColumns))

	_, err := repo.FindPendingByStudent(context.Background(), "stu-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositoryListByScope(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	now := time.Now()
	mock.ExpectQuery(`lower\(btrim\(hostel_block\)\) = ANY\(\$1\) AND lower\(btrim\(floor\)\) = ANY\(\$2\) AND category = ANY\(\$3\) AND \(\(status = 'pending' AND current_level = \$4\) OR approval_log @> \$5::jsonb\)`).
		WithArgs(pq.Array([]string{"d-block"}), pq.Array([]string{"2"}), sqlmock.AnyArg(), "floor-incharge", `[{"approver_id":"fi-1"}]`).
		WillReturnRows(pendingRow(sqlmock.NewRows(permissionRowColumns), "req-1", now))

	list, err := repo.ListByScope(context.Background(), models.PermissionScopeFilter{
		Blocks:     []string{" D-Block"},
		Floors:     []string{"2"},
		Categories: []models.PermissionCategory{models.CategoryNormal},
		Level:      "floor-incharge",
		DecidedBy:  "fi-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositorySaveTransition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	now := time.Now()
	next := &models.PermissionRequest{
		ID:           "req-1",
		CurrentLevel: "hostel-incharge",
		Status:       models.PermissionPending,
		ApprovalLog:  models.ApprovalLog{{Role: models.ApproverFloorIncharge, ApproverID: "fi-1", Decision: models.DecisionApprove, DecidedAt: now}},
		Version:      2,
		UpdatedAt:    now,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE permission_requests")).
		WithArgs("hostel-incharge", "pending", sqlmock.AnyArg(), 2, now, "req-1", "floor-incharge", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveTransition(context.Background(), next, "floor-incharge", 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE permission_requests")).
		WithArgs("hostel-incharge", "pending", sqlmock.AnyArg(), 2, now, "req-1", "floor-incharge", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SaveTransition(context.Background(), next, "floor-incharge", 1)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositorySetCredentialsOnce(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	now := time.Now()
	creds := models.CredentialPair{
		Outgoing: models.Credential{Direction: models.DirectionOutgoing, Token: "a"},
		Return:   models.Credential{Direction: models.DirectionReturn, Token: "b"},
	}

	mock.ExpectExec(regexp.QuoteMeta("credentials IS NULL")).
		WithArgs(sqlmock.AnyArg(), now, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("credentials IS NULL")).
		WithArgs(sqlmock.AnyArg(), now, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetCredentials(context.Background(), "req-1", creds, now))
	require.ErrorIs(t, repo.SetCredentials(context.Background(), "req-1", creds, now), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositoryUpdatePassFiles(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewPermissionRepository(db)
	now := time.Now()
	creds := models.CredentialPair{
		Outgoing: models.Credential{Token: "a", PassFile: "req-1/outgoing.pdf"},
		Return:   models.Credential{Token: "b", PassFile: "req-1/return.pdf"},
	}
	mock.ExpectExec(regexp.QuoteMeta("credentials IS NOT NULL")).
		WithArgs(sqlmock.AnyArg(), now, "req-1", "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassFiles(context.Background(), "req-1", creds, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
