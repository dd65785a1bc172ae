package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"PredictLedger/internal/config"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/migrations"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PREDICT_POSTGRES_DSN   - Postgres connection string")
		fmt.Println("  PREDICT_CONFIG_FILE    - optional TOML config file")
		fmt.Println("  PREDICT_MIGRATIONS_DIR - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	log := observability.NewLogger("migrate")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	var files fs.FS = migrations.Files
	if dir := os.Getenv("PREDICT_MIGRATIONS_DIR"); dir != "" {
		files = os.DirFS(dir)
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, files)

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
