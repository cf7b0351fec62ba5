package optimization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("optimizer run not found")

// Solve methods recorded on a Run.
const (
	MethodAnnealing = "annealing"
	MethodQP        = "qp"
)

// Run is a persisted solve.
type Run struct {
	ID             string             `json:"id"`
	Method         string             `json:"method"`
	CreatedAt      time.Time          `json:"created_at"`
	DurationMs     int64              `json:"duration_ms"`
	ISINs          []string           `json:"isins"`
	Weights        map[string]float64 `json:"weights"`
	Problem        annealing.Problem  `json:"problem"`
	Config         *annealing.Config  `json:"config,omitempty"`
	ObjectiveValue float64            `json:"objective_value"`
	AchievedReturn float64            `json:"achieved_return"`
	Variance       float64            `json:"variance"`
	Levels         int                `json:"levels"`
	Status         string             `json:"status,omitempty"`
}

// RunStore persists runs.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRepository stores runs in the optimizer_runs table. Slices, maps and
// nested structs are msgpack-encoded blobs.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a repository on a migrated "runs" database.
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repository", "optimizer_runs").Logger(),
	}
}

const runColumns = `id, method, created_at, duration_ms, isins, weights, problem, config,
	objective_value, achieved_return, variance, levels, status`

// Save inserts run, assigning an id and timestamp when missing.
func (r *RunRepository) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	isins, err := msgpack.Marshal(run.ISINs)
	if err != nil {
		return fmt.Errorf("failed to encode isins: %w", err)
	}
	weights, err := msgpack.Marshal(run.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	problem, err := msgpack.Marshal(run.Problem)
	if err != nil {
		return fmt.Errorf("failed to encode problem: %w", err)
	}
	var config []byte
	if run.Config != nil {
		if config, err = msgpack.Marshal(run.Config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO optimizer_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Method,
		run.CreatedAt.Unix(),
		run.DurationMs,
		isins,
		weights,
		problem,
		config,
		run.ObjectiveValue,
		run.AchievedReturn,
		run.Variance,
		run.Levels,
		run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("id", run.ID).Str("method", run.Method).Msg("Run saved")
	return nil
}

// Get returns the run with the given id or ErrRunNotFound.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM optimizer_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first. limit <= 0 means 50.
func (r *RunRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM optimizer_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteOlderThan removes runs created before cutoff and returns how many
// were deleted.
func (r *RunRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM optimizer_runs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var createdAt int64
	var isins, weights, problem, config []byte

	err := row.Scan(
		&run.ID,
		&run.Method,
		&createdAt,
		&run.DurationMs,
		&isins,
		&weights,
		&problem,
		&config,
		&run.ObjectiveValue,
		&run.AchievedReturn,
		&run.Variance,
		&run.Levels,
		&run.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.CreatedAt = time.Unix(createdAt, 0)
	if err := msgpack.Unmarshal(isins, &run.ISINs); err != nil {
		return nil, fmt.Errorf("failed to decode isins of run %s: %w", run.ID, err)
	}
	if err := msgpack.Unmarshal(weights, &run.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights of run %s: %w", run.ID, err)
	}
	if err := msgpack.Unmarshal(problem, &run.Problem); err != nil {
		return nil, fmt.Errorf("failed to decode problem of run %s: %w", run.ID, err)
	}
	if len(config) > 0 {
		run.Config = &annealing.Config{}
		if err := msgpack.Unmarshal(config, run.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
