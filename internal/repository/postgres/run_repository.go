package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/history-extracts/internal/pipeline"
)

// Schema is applied by Migrate, one statement at a time. Statements are
// idempotent.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS extraction_runs (
	id            TEXT PRIMARY KEY,
	stamp         TEXT NOT NULL,
	remote_name   TEXT NOT NULL,
	output_dir    TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS extraction_runs_started_at_idx ON extraction_runs (started_at DESC)`,
	`
CREATE TABLE IF NOT EXISTS config_jobs (
	run_id        TEXT NOT NULL REFERENCES extraction_runs (id) ON DELETE CASCADE,
	position      INT NOT NULL,
	config        TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
)`,
}

type runRow struct {
	ID           string       `db:"id"`
	Stamp        string       `db:"stamp"`
	RemoteName   string       `db:"remote_name"`
	OutputDir    string       `db:"output_dir"`
	Status       string       `db:"status"`
	StartedAt    time.Time    `db:"started_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
	ErrorMessage string       `db:"error_message"`
}

type jobRow struct {
	RunID        string `db:"run_id"`
	Position     int    `db:"position"`
	Config       string `db:"config"`
	Status       string `db:"status"`
	ErrorMessage string `db:"error_message"`
	DurationMS   int64  `db:"duration_ms"`
}

// RunRepository stores extraction run history.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate run history: %w", err)
		}
	}
	return nil
}

func (r *RunRepository) CreateRun(ctx context.Context, run *pipeline.ExtractionRun) error {
	query := `
		INSERT INTO extraction_runs (
			id, stamp, remote_name, output_dir, status,
			started_at, completed_at, error_message
		) VALUES (
			:id, :stamp, :remote_name, :output_dir, :status,
			:started_at, :completed_at, :error_message
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, toRunRow(run)); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun rewrites the run row and replaces its jobs.
func (r *RunRepository) UpdateRun(ctx context.Context, run *pipeline.ExtractionRun) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE extraction_runs
			SET status = :status, completed_at = :completed_at, error_message = :error_message
			WHERE id = :id
		`
		res, err := tx.NamedExecContext(ctx, query, toRunRow(run))
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s not found", run.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM config_jobs WHERE run_id = $1`, run.ID); err != nil {
			return fmt.Errorf("failed to clear jobs: %w", err)
		}
		rows := toJobRows(run)
		if len(rows) == 0 {
			return nil
		}
		insert := `
			INSERT INTO config_jobs (run_id, position, config, status, error_message, duration_ms)
			VALUES (:run_id, :position, :config, :status, :error_message, :duration_ms)
		`
		if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
			return fmt.Errorf("failed to insert jobs: %w", err)
		}
		return nil
	})
}

// ListRuns returns the most recent runs first, jobs included.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*pipeline.ExtractionRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	query := `
		SELECT id, stamp, remote_name, output_dir, status, started_at, completed_at, error_message
		FROM extraction_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(rows) == 0 {
		return []*pipeline.ExtractionRun{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	jobQuery, args, err := sqlx.In(`
		SELECT run_id, position, config, status, error_message, duration_ms
		FROM config_jobs
		WHERE run_id IN (?)
		ORDER BY run_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	var jobs []jobRow
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(jobQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return assemble(rows, jobs), nil
}

// GetRun returns nil when no run has the id.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*pipeline.ExtractionRun, error) {
	var row runRow
	query := `
		SELECT id, stamp, remote_name, output_dir, status, started_at, completed_at, error_message
		FROM extraction_runs
		WHERE id = $1
	`
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var jobs []jobRow
	if err := r.db.SelectContext(ctx, &jobs, `
		SELECT run_id, position, config, status, error_message, duration_ms
		FROM config_jobs
		WHERE run_id = $1
		ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return assemble([]runRow{row}, jobs)[0], nil
}

func toRunRow(run *pipeline.ExtractionRun) runRow {
	row := runRow{
		ID:           run.ID,
		Stamp:        run.Stamp,
		RemoteName:   run.RemoteName,
		OutputDir:    run.OutputDir,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		ErrorMessage: run.ErrorMessage,
	}
	if run.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	return row
}

func toJobRows(run *pipeline.ExtractionRun) []jobRow {
	rows := make([]jobRow, len(run.Jobs))
	for i, j := range run.Jobs {
		rows[i] = jobRow{
			RunID:        run.ID,
			Position:     i,
			Config:       j.Config,
			Status:       string(j.Status),
			ErrorMessage: j.ErrorMessage,
			DurationMS:   j.Duration.Milliseconds(),
		}
	}
	return rows
}

// assemble keeps the order of runs and attaches jobs in position order.
func assemble(runs []runRow, jobs []jobRow) []*pipeline.ExtractionRun {
	out := make([]*pipeline.ExtractionRun, len(runs))
	byID := make(map[string]*pipeline.ExtractionRun, len(runs))
	for i, row := range runs {
		run := &pipeline.ExtractionRun{
			ID:           row.ID,
			Stamp:        row.Stamp,
			RemoteName:   row.RemoteName,
			OutputDir:    row.OutputDir,
			Status:       pipeline.RunStatus(row.Status),
			StartedAt:    row.StartedAt,
			ErrorMessage: row.ErrorMessage,
		}
		if row.CompletedAt.Valid {
			t := row.CompletedAt.Time
			run.CompletedAt = &t
		}
		out[i] = run
		byID[row.ID] = run
	}
	for _, j := range jobs {
		run, ok := byID[j.RunID]
		if !ok {
			continue
		}
		run.Jobs = append(run.Jobs, &pipeline.ConfigJob{
			Config:       j.Config,
			Status:       pipeline.RunStatus(j.Status),
			ErrorMessage: j.ErrorMessage,
			Duration:     time.Duration(j.DurationMS) * time.Millisecond,
		})
	}
	return out
}

var _ pipeline.RunRecorder = (*RunRepository)(nil)
