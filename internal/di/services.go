package di

import (
	"context"
	"fmt"

	"github.com/aristath/minvar/internal/config"
	"github.com/aristath/minvar/internal/modules/optimization"
	"github.com/aristath/minvar/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the run store
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.RunRepo = optimization.NewRunRepository(container.RunsDB.Conn(), log)
	return nil
}

// InitializeServices creates the optimizer and, when configured, the backup
// service.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.QPSolver = optimization.NewGonumQPSolver(log)
	container.Optimizer = optimization.NewOptimizerService(cfg.Annealing, container.QPSolver, container.RunRepo, log)
	container.Optimizer.SetLimits(optimization.Limits{
		MaxK:           cfg.AnnealMaxK,
		MaxEvaluations: cfg.AnnealMaxEvaluations,
	})

	if !cfg.Backup.Enabled() {
		log.Info().Msg("Backup bucket not configured, backups disabled")
		return nil
	}

	store, err := reliability.NewS3Store(ctx, reliability.S3Config{
		Bucket:          cfg.Backup.Bucket,
		Region:          cfg.Backup.Region,
		Endpoint:        cfg.Backup.Endpoint,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create backup store: %w", err)
	}
	container.BackupService = reliability.NewBackupService(store, container.RunsDB, cfg.DataDir, cfg.Backup.Prefix, log)

	return nil
}
