package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"AISRelay/internal/config"
	"AISRelay/internal/observability"
	"AISRelay/internal/persistence"
)

func main() {
	log := observability.NewLogger("migrate")

	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  AIS_SNAPSHOT_BACKEND - postgres or sqlite (default: postgres)")
		fmt.Println("  AIS_POSTGRES_DSN     - Postgres connection string")
		fmt.Println("  AIS_SQLITE_PATH      - SQLite database file")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var db *sql.DB
	dialect := persistence.Postgres
	if cfg.SnapshotBackend == config.BackendSQLite {
		dialect = persistence.SQLite
		db, err = persistence.ConnectSQLite(ctx, cfg.SQLitePath)
	} else {
		db, err = persistence.ConnectPostgres(ctx, cfg.PostgresDSN)
	}
	if err != nil {
		log.Fatal().Err(err).Str("driver", dialect.Driver).Msg("open database")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, dialect, log)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
