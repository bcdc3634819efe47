package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"StableLend/internal/persistence"
	"StableLend/internal/projection"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|rebuild-projections>")
		fmt.Println("  up                   - apply all pending migrations")
		fmt.Println("  down                 - roll back the last migration")
		fmt.Println("  rebuild-projections  - rebuild read models from the event log")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  STABLE_POSTGRES_DSN    - Postgres connection string (required)")
		fmt.Println("  STABLE_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	pgURL := os.Getenv("STABLE_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/stablelend?sslmode=disable"
	}

	migrationsDir := os.Getenv("STABLE_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Println("INFO: all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "rebuild-projections":
		if err := projection.RebuildProjections(ctx, db); err != nil {
			log.Fatalf("FATAL: rebuild projections: %v", err)
		}
		log.Println("INFO: projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'rebuild-projections')\n", os.Args[1])
		os.Exit(1)
	}
}
