package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"medcabinet/m/internal/api"
	"medcabinet/m/internal/config"
	"medcabinet/m/internal/database"
	"medcabinet/m/internal/ledger"
	"medcabinet/m/internal/migrations"
	"medcabinet/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	if inserted, err := seed.Cabinets(db); err != nil {
		logger.Fatal().Err(err).Msg("cabinet seed failed")
	} else if inserted > 0 {
		logger.Info().Int("cabinets", inserted).Msg("seeded default cabinets")
	}

	led := ledger.New(db, logger)
	handler := api.New(db, led, cfg.Secret, logger)

	logger.Info().Str("port", cfg.HTTPPort).Msg("medicine cabinet server starting")
	if err := http.ListenAndServe(":"+cfg.HTTPPort, handler.Router()); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
