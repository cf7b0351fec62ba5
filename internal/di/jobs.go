package di

import (
	"fmt"

	"github.com/aristath/minvar/internal/config"
	"github.com/aristath/minvar/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	maintenanceSchedule = "0 0 * * * *"
	backupRetentionDays = 30
)

// RegisterJobs creates the scheduler and registers every background job. The
// scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(log)
	container.Scheduler = sched

	jobs := &JobInstances{
		RunRetention:        scheduler.NewRunRetentionJob(container.Optimizer, cfg.RunRetention, log),
		DatabaseMaintenance: scheduler.NewDatabaseMaintenanceJob(container.RunsDB, log),
	}

	if err := sched.AddJob(cfg.RetentionSchedule, jobs.RunRetention); err != nil {
		return nil, fmt.Errorf("failed to register run retention job: %w", err)
	}
	if err := sched.AddJob(maintenanceSchedule, jobs.DatabaseMaintenance); err != nil {
		return nil, fmt.Errorf("failed to register database maintenance job: %w", err)
	}

	if container.BackupService != nil {
		jobs.Backup = scheduler.NewBackupJob(container.BackupService, backupRetentionDays, log)
		if err := sched.AddJob(cfg.BackupSchedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	return jobs, nil
}

// RunStartupJobs checks the database and prunes stale runs before the server
// takes traffic. Failures are logged; neither job is fatal.
func RunStartupJobs(container *Container, jobs *JobInstances, log zerolog.Logger) {
	for _, job := range []scheduler.Job{jobs.DatabaseMaintenance, jobs.RunRetention} {
		if job == nil {
			continue
		}
		if err := container.Scheduler.RunNow(job); err != nil {
			log.Warn().Err(err).Str("job", job.Name()).Msg("Startup job failed")
		}
	}
}
