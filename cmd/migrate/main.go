package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"

	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/outreach-analytics-backend/migrations"
)

const migrationsDir = "migrations"

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		action     = flag.String("action", "up", "Migration action: up, down, version, force, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		steps      = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		version    = flag.Int("version", -1, "Version to force (for force action)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.SetupLogger(cfg.LogLevel)

	if *action == "create" {
		if *name == "" {
			logger.Error("migration name is required for create action")
			os.Exit(1)
		}
		up, down, err := Create(migrationsDir, *name, time.Now())
		if err != nil {
			logger.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		logger.Info("created migration", "up", up, "down", down)
		return
	}

	m, err := newMigrator(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, *action, *steps, *version, logger); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := migrations.Source()
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

// Runner is the subset of migrate.Migrate the CLI drives
type Runner interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func run(m Runner, action string, steps, version int, logger *slog.Logger) error {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		if version < 0 {
			return errors.New("version is required for force action")
		}
		err = m.Force(version)
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no pending migrations")
		err = nil
	}
	if err != nil {
		return err
	}

	v, dirty, verr := m.Version()
	if errors.Is(verr, migrate.ErrNilVersion) {
		logger.Info("database has no migrations applied")
		return nil
	}
	if verr != nil {
		return verr
	}
	logger.Info("migration state", "version", v, "dirty", dirty)
	return nil
}

var nameRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Create writes an empty up/down pair named after the current timestamp
func Create(dir, name string, now time.Time) (string, string, error) {
	clean := nameRe.ReplaceAllString(name, "_")
	if clean == "" || clean == "_" {
		return "", "", fmt.Errorf("invalid migration name %q", name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", now.UTC().Format("20060102150405"), clean)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")

	header := fmt.Sprintf("-- Migration: %s\n-- Created at: %s\n\n", name, now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(up, []byte(header), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create migration file: %w", err)
	}
	if err := os.WriteFile(down, []byte(header), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return up, down, nil
}
