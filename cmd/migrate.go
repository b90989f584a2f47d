package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chimein/internal/config"
)

var migrationsDir string

func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if v := os.Getenv("CHIMEIN_MIGRATIONS_DIR"); v != "" {
		return v
	}
	// Default: ./migrations next to the executable.
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// withMigrator opens a migrator against the configured Postgres DSN and runs fn.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Store.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("CHIMEIN_POSTGRES_DSN environment variable is not set")
	}

	m, err := migrate.New("file://"+resolveMigrationsDir(), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return fn(m)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Postgres schema management for the channel context store",
	}

	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Up()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("migration complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if steps <= 0 {
					steps = 1
				}
				if err := ignoreNoChange(m.Steps(-steps)); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("rollback complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Println("version: none (no migrations applied)")
					return nil
				}
				if err != nil {
					return fmt.Errorf("get version: %w", err)
				}
				fmt.Printf("version: %d, dirty: %v\n", v, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "version", version)
				return nil
			})
		},
	})

	return cmd
}
