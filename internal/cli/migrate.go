package cli

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	pgmigrations "school-session-agent/internal/infra/postgres/migrations"
	"school-session-agent/internal/logging"
)

// NewMigrateCmd applies (or rolls back) the reference backend schema.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the reference backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger("migrate", cfg)
			defer logger.Close()
			if rollback {
				return rollbackMigrations(cmd.Context(), cfg.Postgres.URL, logger)
			}
			return runMigrations(cmd.Context(), cfg.Postgres.URL, logger)
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}

func newMigrator(dsn string) (*migrate.Migrator, *bun.DB, error) {
	if dsn == "" {
		return nil, nil, errors.New("postgres url not configured")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return migrate.NewMigrator(db, pgmigrations.Migrations), db, nil
}

func runMigrations(ctx context.Context, dsn string, logger logging.Logger) error {
	migrator, db, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrator.Init(ctx); err != nil {
		return errors.Wrap(err, "init migrations")
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return errors.Wrap(err, "migrate")
	}
	if group.IsZero() {
		logger.Infof("database is up to date")
		return nil
	}
	logger.Infof("migrated to %s", group)
	return nil
}

func rollbackMigrations(ctx context.Context, dsn string, logger logging.Logger) error {
	migrator, db, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return errors.Wrap(err, "rollback")
	}
	if group.IsZero() {
		logger.Infof("nothing to roll back")
		return nil
	}
	logger.Infof("rolled back %s", group)
	return nil
}
