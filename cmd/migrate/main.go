package main

import (
	"flag"
	"os"

	"github.com/pixforge/pixforge/internal/database"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Pretty console output for an operator-run tool
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		command     string
		steps       int
		databaseURL string
	)

	flag.StringVar(&command, "command", "up", "Migration command: up, down")
	flag.IntVar(&steps, "steps", 1, "Number of migrations to roll back with -command down")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	log.Info().
		Str("command", command).
		Msg("Starting migration")

	var err error
	switch command {
	case "up":
		err = database.RunMigrations(databaseURL)
	case "down":
		err = database.RollbackMigration(databaseURL, steps)
	default:
		log.Fatal().Str("command", command).Msg("Unknown command")
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Msg("Migration completed successfully")
}
