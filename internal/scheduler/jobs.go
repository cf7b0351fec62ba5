package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const jobTimeout = 10 * time.Minute

// RunPruner deletes stored optimizer runs older than a retention window.
type RunPruner interface {
	PruneRuns(ctx context.Context, retention time.Duration) (int64, error)
}

// RunRetentionJob prunes the run history
type RunRetentionJob struct {
	pruner    RunPruner
	retention time.Duration
	log       zerolog.Logger
}

// NewRunRetentionJob creates a retention job
func NewRunRetentionJob(pruner RunPruner, retention time.Duration, log zerolog.Logger) *RunRetentionJob {
	return &RunRetentionJob{
		pruner:    pruner,
		retention: retention,
		log:       log.With().Str("job", "run_retention").Logger(),
	}
}

// Name returns the job name
func (j *RunRetentionJob) Name() string {
	return "run_retention"
}

// Run executes the retention pass
func (j *RunRetentionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	deleted, err := j.pruner.PruneRuns(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	j.log.Info().Int64("deleted", deleted).Msg("Run retention completed")
	return nil
}

// Backuper uploads database snapshots and rotates old ones.
type Backuper interface {
	CreateAndUploadBackup(ctx context.Context) (string, error)
	RotateOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// BackupJob uploads a snapshot of the runs database, then rotates old
// archives. A rotation failure is logged but does not fail the job.
type BackupJob struct {
	backups       Backuper
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a backup job
func NewBackupJob(backups Backuper, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:       backups,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	key, err := j.backups.CreateAndUploadBackup(ctx)
	if err != nil {
		return err
	}

	deleted, err := j.backups.RotateOldBackups(ctx, j.retentionDays)
	if err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
		return nil
	}

	j.log.Info().
		Str("key", key).
		Int("rotated", deleted).
		Msg("Backup job completed")
	return nil
}

// MaintainedDB is a database that can check and checkpoint itself.
type MaintainedDB interface {
	Name() string
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// DatabaseMaintenanceJob runs an integrity check and truncates the WAL.
type DatabaseMaintenanceJob struct {
	db  MaintainedDB
	log zerolog.Logger
}

// NewDatabaseMaintenanceJob creates a maintenance job
func NewDatabaseMaintenanceJob(db MaintainedDB, log zerolog.Logger) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		db:  db,
		log: log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance pass
func (j *DatabaseMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database %s is unhealthy: %w", j.db.Name(), err)
	}
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	j.log.Debug().Str("database", j.db.Name()).Msg("Database maintenance completed")
	return nil
}
