package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appliedQuery = "SELECT version, name, applied_at FROM schema_migrations ORDER BY version"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func setupMigrator(t *testing.T) (*migrator, sqlmock.Sqlmock, *bytes.Buffer, string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	out := &bytes.Buffer{}
	return newMigrator(db, dir, out), mock, out, dir
}

func appliedRows(versions ...int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"version", "name", "applied_at"})
	for _, v := range versions {
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		rows.AddRow(v, "m", &at)
	}
	return rows
}

func TestLoadMigrations_SortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"002_create_email_jobs.sql": "",
		"001_create_campaigns.sql":  "",
		"README.md":                 "",
		"1_bad_name.sql":            "",
		"seed/001_demo.sql":         "",
	})

	migrations, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_campaigns", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)

	missing, err := loadMigrations(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestUp_AppliesOnlyPending(t *testing.T) {
	m, mock, _, dir := setupMigrator(t)
	writeFiles(t, dir, map[string]string{
		"001_a.sql": "CREATE TABLE a (id INT);",
		"002_b.sql": "CREATE TABLE b (id INT);",
	})

	mock.ExpectQuery(appliedQuery).WillReturnRows(appliedRows(1))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b (id INT);").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)").
		WithArgs(2, "b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUp_NothingPending(t *testing.T) {
	m, mock, out, dir := setupMigrator(t)
	writeFiles(t, dir, map[string]string{"001_a.sql": "SELECT 1;"})

	mock.ExpectQuery(appliedQuery).WillReturnRows(appliedRows(1))

	n, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, out.String(), "up to date")
}

func TestDown_RollsBackHighestVersion(t *testing.T) {
	m, mock, _, _ := setupMigrator(t)

	mock.ExpectQuery(appliedQuery).WillReturnRows(appliedRows(1, 2))
	mock.ExpectBegin()
	mock.ExpectExec(rollbacks[2]).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations WHERE version = $1").
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Down(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDown_UnknownVersion(t *testing.T) {
	m, mock, _, _ := setupMigrator(t)
	mock.ExpectQuery(appliedQuery).WillReturnRows(appliedRows(9))

	err := m.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rollback defined")
}

func TestStatus(t *testing.T) {
	m, mock, out, dir := setupMigrator(t)
	writeFiles(t, dir, map[string]string{
		"001_a.sql": "",
		"002_b.sql": "",
	})
	mock.ExpectQuery(appliedQuery).WillReturnRows(appliedRows(1))

	require.NoError(t, m.Status(context.Background()))
	assert.Contains(t, out.String(), "applied")
	assert.Contains(t, out.String(), "pending")
	assert.Contains(t, out.String(), "Summary: 1/2 migrations applied")
}

func TestSeed(t *testing.T) {
	m, mock, _, dir := setupMigrator(t)
	writeFiles(t, dir, map[string]string{"seed/001_demo.sql": "INSERT INTO campaigns DEFAULT VALUES;"})

	mock.ExpectExec("INSERT INTO campaigns DEFAULT VALUES;").WillReturnResult(sqlmock.NewResult(1, 1))

	n, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
