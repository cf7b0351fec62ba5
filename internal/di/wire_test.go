package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/minvar/internal/config"
	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/aristath/minvar/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:           t.TempDir(),
		Port:              8080,
		Annealing:         annealing.DefaultConfig(),
		RunRetention:      24 * time.Hour,
		RetentionSchedule: "0 30 3 * * *",
		BackupSchedule:    "0 0 4 * * *",
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.RunsDB)
	assert.NotNil(t, container.RunRepo)
	assert.NotNil(t, container.Optimizer)
	assert.NotNil(t, container.Scheduler)
	assert.Nil(t, container.BackupService)

	assert.NotNil(t, jobs.RunRetention)
	assert.NotNil(t, jobs.DatabaseMaintenance)
	assert.Nil(t, jobs.Backup)

	assert.NoError(t, container.Scheduler.RunNow(jobs.RunRetention))
	assert.NoError(t, container.Scheduler.RunNow(jobs.DatabaseMaintenance))
}

func TestWire_WithBackups(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup = config.BackupConfig{
		Bucket:          "backups",
		Region:          "auto",
		Endpoint:        "http://127.0.0.1:9",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		Prefix:          "minvar/",
	}

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.BackupService)
	assert.NotNil(t, jobs.Backup)
}

func TestWire_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionSchedule = "daily"

	_, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "run retention")
}

func TestRunStartupJobs_PrunesStaleRuns(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	ctx := context.Background()
	stale := &optimization.Run{
		Method:    optimization.MethodQP,
		CreatedAt: time.Now().Add(-2 * cfg.RunRetention),
		ISINs:     []string{"A"},
		Weights:   map[string]float64{"A": 1},
	}
	fresh := &optimization.Run{
		Method:  optimization.MethodQP,
		ISINs:   []string{"A"},
		Weights: map[string]float64{"A": 1},
	}
	require.NoError(t, container.RunRepo.Save(ctx, stale))
	require.NoError(t, container.RunRepo.Save(ctx, fresh))

	RunStartupJobs(container, jobs, zerolog.Nop())

	runs, err := container.RunRepo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, fresh.ID, runs[0].ID)
}
