package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"mailpacer/internal/config"
)

func main() {
	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s%v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Mailpacer schema migration runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "migrations", "directory holding NNN_name.sql files")

	// run opens the database, ensures the tracking table and hands a migrator to fn
	run := func(fn func(cmd *cobra.Command, m *migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
			if err != nil {
				return fmt.Errorf("failed to open database connection: %w", err)
			}
			defer db.Close()

			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("failed to ping database: %w", err)
			}

			m := newMigrator(db, dir, cmd.OutOrStdout())
			m.success("✓ Connected to database")
			if err := m.ensureTable(cmd.Context()); err != nil {
				return err
			}
			return fn(cmd, m)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(cmd *cobra.Command, m *migrator) error {
				_, err := m.Up(cmd.Context())
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: run(func(cmd *cobra.Command, m *migrator) error {
				return m.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: run(func(cmd *cobra.Command, m *migrator) error {
				return m.Status(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Roll back every migration and reapply them",
			RunE: run(func(cmd *cobra.Command, m *migrator) error {
				m.warn("Resetting database (rollback all + reapply all)...")
				return m.Reset(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Run the SQL files under <dir>/seed",
			RunE: run(func(cmd *cobra.Command, m *migrator) error {
				n, err := m.Seed(cmd.Context())
				if err == nil && n > 0 {
					m.success(fmt.Sprintf("✓ Successfully ran %d seed file(s)", n))
				}
				return err
			}),
		},
	)

	return root
}
