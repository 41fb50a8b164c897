package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/pkg/config"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	db, mock := newMock(t)
	files := fstest.MapFS{
		"0002_notices.sql":             {Data: []byte("CREATE TABLE notices (id TEXT)")},
		"0001_permission_workflow.sql": {Data: []byte("CREATE TABLE users (id TEXT)")},
		"README.md":                    {Data: []byte("ignored")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_permission_workflow.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE notices").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_notices.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran, err := Migrate(context.Background(), db, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_notices.sql"}, ran)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackFailedFile(t *testing.T) {
	db, mock := newMock(t)
	files := fstest.MapFS{"0001_permission_workflow.sql": {Data: []byte("CREATE TABLE users (id TEXT)")}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE users").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	ran, err := Migrate(context.Background(), db, files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_permission_workflow.sql")
	assert.Empty(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDSNDefaultsSSLMode(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "secret", Name: "hostel_permits"})
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=hostel_permits sslmode=disable", dsn)
}
