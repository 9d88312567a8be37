package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Migration is one numbered SQL file and its tracking state
type Migration struct {
	Version   int
	Name      string
	FilePath  string
	Applied   bool
	AppliedAt *time.Time
}

// rollbacks undo each schema version. email_jobs references campaigns,
// so CASCADE keeps single-step rollback working in either order.
var rollbacks = map[int]string{
	1: "DROP TABLE IF EXISTS campaigns CASCADE;",
	2: "DROP TABLE IF EXISTS email_jobs CASCADE;",
}

var migrationFile = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

type migrator struct {
	db  *sql.DB
	dir string
	out io.Writer
}

func newMigrator(db *sql.DB, dir string, out io.Writer) *migrator {
	return &migrator{db: db, dir: dir, out: out}
}

// ensureTable creates the schema_migrations tracking table
func (m *migrator) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (m *migrator) applied(ctx context.Context) (map[int]Migration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var mig Migration
		if err := rows.Scan(&mig.Version, &mig.Name, &mig.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		mig.Applied = true
		applied[mig.Version] = mig
	}
	return applied, rows.Err()
}

// loadMigrations lists NNN_name.sql files in dir sorted by version. A missing dir is empty.
func loadMigrations(dir string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(file.Name())
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			FilePath: filepath.Join(dir, file.Name()),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pending returns the files in dir not yet recorded as applied
func (m *migrator) pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	all, err := loadMigrations(m.dir)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies every pending migration, each in its own transaction
func (m *migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		m.success("✓ All migrations are up to date")
		return 0, nil
	}

	for _, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return 0, fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
	}

	m.success(fmt.Sprintf("✓ Successfully applied %d migration(s)", len(pending)))
	return len(pending), nil
}

func (m *migrator) apply(ctx context.Context, mig Migration) error {
	m.info(fmt.Sprintf("Applying migration %03d_%s...", mig.Version, mig.Name))

	content, err := os.ReadFile(mig.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.success(fmt.Sprintf("  ✓ Migration %03d applied successfully", mig.Version))
	return nil
}

// Down rolls back the highest applied version
func (m *migrator) Down(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		m.warn("No migrations to rollback")
		return nil
	}

	last := 0
	for version := range applied {
		if version > last {
			last = version
		}
	}
	return m.rollback(ctx, applied[last])
}

func (m *migrator) rollback(ctx context.Context, mig Migration) error {
	dropSQL, ok := rollbacks[mig.Version]
	if !ok {
		return fmt.Errorf("no rollback defined for migration version %d", mig.Version)
	}

	m.info(fmt.Sprintf("Rolling back migration %03d_%s...", mig.Version, mig.Name))

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", mig.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.success(fmt.Sprintf("  ✓ Migration %03d rolled back", mig.Version))
	return nil
}

// Reset rolls back everything in reverse order and reapplies
func (m *migrator) Reset(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	versions := make([]int, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, version := range versions {
		if err := m.rollback(ctx, applied[version]); err != nil {
			return err
		}
	}

	_, err = m.Up(ctx)
	return err
}

// Status prints every known migration with its applied state
func (m *migrator) Status(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	all, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		m.warn(fmt.Sprintf("No migration files found in %s", m.dir))
		return nil
	}

	w := tabwriter.NewWriter(m.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	fmt.Fprintln(w, "-------\t----\t------\t----------")

	count := 0
	for _, mig := range all {
		status, at := "pending", "-"
		if rec, ok := applied[mig.Version]; ok {
			status = "applied"
			count++
			if rec.AppliedAt != nil {
				at = rec.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", mig.Version, mig.Name, status, at)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	m.info(fmt.Sprintf("\nSummary: %d/%d migrations applied", count, len(all)))
	return nil
}

// Seed runs every file under <dir>/seed without tracking
func (m *migrator) Seed(ctx context.Context) (int, error) {
	seeds, err := loadMigrations(filepath.Join(m.dir, "seed"))
	if err != nil {
		return 0, err
	}
	if len(seeds) == 0 {
		m.warn("No seed files found")
		return 0, nil
	}

	for _, seed := range seeds {
		content, err := os.ReadFile(seed.FilePath)
		if err != nil {
			return 0, fmt.Errorf("failed to read seed file: %w", err)
		}
		if _, err := m.db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("failed to execute seed %03d_%s: %w", seed.Version, seed.Name, err)
		}
		m.success(fmt.Sprintf("  ✓ Seed %03d applied successfully", seed.Version))
	}
	return len(seeds), nil
}

func (m *migrator) success(msg string) { m.print(colorGreen, msg) }
func (m *migrator) info(msg string)    { m.print(colorCyan, msg) }
func (m *migrator) warn(msg string)    { m.print(colorYellow, msg) }

func (m *migrator) print(color, msg string) {
	if f, ok := m.out.(*os.File); ok && isTerminal(f) {
		fmt.Fprintf(m.out, "%s%s%s\n", color, msg, colorReset)
		return
	}
	fmt.Fprintln(m.out, strings.TrimRight(msg, "\n"))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
