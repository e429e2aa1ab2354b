package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"fuelflow/config"
	"fuelflow/logger"
	"fuelflow/reader"
)

type databaseOptions struct {
	dsn string
}

func (d *databaseOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.dsn, "dsn", "", "postgres connection string (default $DATABASE_URL or storage.postgres.dsn)")
}

// open resolves the DSN from the flag, the environment and then the config file.
func (d *databaseOptions) open(root *rootOptions) (*gorm.DB, error) {
	pg := config.PostgresConfig{DSN: d.dsn}
	if pg.DSN == "" {
		pg.DSN = os.Getenv("DATABASE_URL")
	}
	if pg.DSN == "" {
		cfg, err := root.loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			pg = cfg.Storage.Postgres
		}
	}
	if pg.DSN == "" {
		return nil, fmt.Errorf("no database configured: pass --dsn, set DATABASE_URL or use --config")
	}
	return reader.OpenPostgres(pg)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	d := &databaseOptions{}
	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Create or update the messages and calibrating tables",
		GroupID: gDatabase,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := d.open(root)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := reader.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.GetLogger().WithComponent("fuelctl").Info("schema migrated")
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
	d.register(cmd)
	return cmd
}

func newImportCalibrationCommand(root *rootOptions) *cobra.Command {
	d := &databaseOptions{}
	cmd := &cobra.Command{
		Use:     "import-calibration <csv>",
		Short:   "Load a calibrating table export into the database",
		Long:    `Load a calibrating table export ("id,deviceid_port,calibrating_data") into the database. Existing ids are overwritten.`,
		GroupID: gDatabase,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readCalibrationRecords(args[0])
			if err != nil {
				return err
			}
			db, err := d.open(root)
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := reader.ImportCalibration(cmd.Context(), db, records)
			if err != nil {
				return err
			}
			logger.GetLogger().WithComponent("fuelctl").WithFields(logger.Fields{
				"file":    args[0],
				"records": len(records),
				"rows":    n,
			}).Info("calibration imported")
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d calibration records\n", len(records))
			return nil
		},
	}
	d.register(cmd)
	return cmd
}
