package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"aistudio/internal/infra"
	"aistudio/internal/migrate"
)

func main() {
	var down bool
	flag.BoolVar(&down, "down", false, "Roll back the most recent migration instead of applying pending ones")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "migrate").Logger()

	db, err := migrate.Open(dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()

	if down {
		err = migrate.Down(db)
	} else {
		err = migrate.Up(db)
	}
	if err != nil {
		logger.Fatal().Err(err).Bool("down", down).Msg("migration failed")
	}

	version, dirty, err := migrate.Version(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("read schema version")
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema up to date")
}
