package main

// Apply the orchestrator state store migrations:
//   go run ./cmd/migrate

import (
	"context"
	"os"

	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/storage/db"
	"menu-analysis-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(cfg.LogLevel)
	defer telemetry.Sync()
	ctx := context.Background()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err})
		sqlDB.Close()
		os.Exit(1)
	}
	version, err := db.MigrationVersion(sqlDB)
	if err != nil {
		telemetry.Warn("migrate.version_unknown", map[string]any{"error": err})
	}
	telemetry.Info("migrate.done", map[string]any{"version": version})
}
