// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/minvar/internal/database"
	"github.com/aristath/minvar/internal/modules/optimization"
	"github.com/aristath/minvar/internal/reliability"
	"github.com/aristath/minvar/internal/scheduler"
)

// Container holds all application dependencies. It is created by Wire.
type Container struct {
	RunsDB *database.DB

	RunRepo   *optimization.RunRepository
	QPSolver  *optimization.GonumQPSolver
	Optimizer *optimization.OptimizerService

	// BackupService is nil when no backup bucket is configured.
	BackupService *reliability.BackupService
	Scheduler     *scheduler.Scheduler
}

// JobInstances holds the registered jobs so they can be run on demand.
type JobInstances struct {
	RunRetention        scheduler.Job
	DatabaseMaintenance scheduler.Job
	Backup              scheduler.Job // nil when backups are disabled
}
