package di

import (
	"fmt"

	"github.com/aristath/minvar/internal/config"
	"github.com/aristath/minvar/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the runs database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	runsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runs database: %w", err)
	}

	if err := runsDB.Migrate(); err != nil {
		runsDB.Close()
		return nil, fmt.Errorf("failed to migrate runs database: %w", err)
	}

	log.Info().Str("path", runsDB.Path()).Msg("Runs database initialized")
	return &Container{RunsDB: runsDB}, nil
}
