package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/interventions/internal/config"
	"github.com/liamcoop/interventions/internal/logger"
)

func main() {
	defer logger.Shutdown(context.Background())

	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		cfg, err := config.Load(".env")
		if err != nil {
			logger.Fatal("config_load_failed", "error", err)
		}
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		logger.Fatal("database_url_missing", "hint", "use -database or DATABASE_URL")
	}

	logger.Info("migrate_starting", "path", migrationsPath, "command", command)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("migrate_init_failed", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migrate_up_to_date")
			return
		}
		if err != nil {
			logger.Fatal("migrate_up_failed", "error", err)
		}
		logger.Info("migrate_up_completed")

	case "down":
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("migrate_down_failed", "error", err)
		}
		logger.Info("migrate_down_completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("migrate_version_failed", "error", err)
		}
		logger.Info("migrate_version", "version", version, "dirty", dirty)

	case "force":
		if flag.NArg() < 1 {
			logger.Fatal("migrate_force_requires_version", "usage", "-command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			logger.Fatal("migrate_invalid_version", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("migrate_force_failed", "error", err)
		}
		logger.Info("migrate_forced", "version", version)

	default:
		logger.Fatal("migrate_unknown_command", "command", command, "valid", "up, down, version, force")
	}
}
