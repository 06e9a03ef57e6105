package postgres

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	files := fstest.MapFS{
		"migrations/001_init.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
		"migrations/002_more.sql":  {Data: []byte("CREATE TABLE b (id TEXT);")},
		"migrations/003_empty.sql": {Data: []byte("  \n")},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("001_init.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("002_more.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_more.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("003_empty.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	applied, err := migrate(context.Background(), db, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_more.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	body, err := migrationFiles.ReadFile("migrations/001_pipeline.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "sending_domains_primary_idx")
	assert.Contains(t, string(body), "UNIQUE (email, type, org_key)")
}
