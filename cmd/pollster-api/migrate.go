package main

import (
	"github.com/MarcoPoloResearchLab/pollster/internal/config"
	"github.com/MarcoPoloResearchLab/pollster/internal/database"
	"github.com/MarcoPoloResearchLab/pollster/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and apply pending migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(*gorm.DB, *zap.Logger) error {
				return nil
			})
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rewrite every option vote counter from the stored vote records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(db *gorm.DB, logger *zap.Logger) error {
				if err := database.RecomputeOptionVoteCounts(db.WithContext(cmd.Context())); err != nil {
					return err
				}
				logger.Info("option vote counts reconciled")
				return nil
			})
		},
	}
}

// withDatabase opens the store, which migrates it, and runs fn against it.
func withDatabase(fn func(*gorm.DB, *zap.Logger) error) error {
	appConfig, err := config.LoadDatabase(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return fn(db, logger)
}
