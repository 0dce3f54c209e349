package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dwpipe/internal/model"
	"dwpipe/internal/repository"
)

// RunPostgres is a PostgreSQL implementation of repository.RunRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type RunPostgres struct {
	db *sql.DB
}

// NewRunPostgres creates a new RunPostgres repository.
func NewRunPostgres(db *sql.DB) *RunPostgres {
	return &RunPostgres{db: db}
}

var _ repository.RunRepository = (*RunPostgres)(nil)

const runColumns = `id, pipeline_id, status, params, error, created_at, started_at, finished_at`

// Create inserts a new run row.
func (r *RunPostgres) Create(ctx context.Context, run *model.Run) error {
	params, err := json.Marshal(paramsOrEmpty(run.Params))
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	const q = `
		INSERT INTO pipeline_runs (id, pipeline_id, status, params, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, q,
		run.ID,
		run.PipelineID,
		string(run.Status),
		params,
		run.Error,
		run.CreatedAt,
	)
	return err
}

// UpdateStatus only touches runs that have not finished yet.
func (r *RunPostgres) UpdateStatus(ctx context.Context, id string, status model.RunStatus, errMsg string, at time.Time) error {
	const q = `
		UPDATE pipeline_runs
		SET status      = $2::text,
		    error       = $3,
		    started_at  = CASE WHEN $2::text = 'running' THEN $4 ELSE started_at END,
		    finished_at = CASE WHEN $2::text IN ('success', 'failed') THEN $4 ELSE finished_at END
		WHERE id = $1 AND status NOT IN ('success', 'failed')
	`
	res, err := r.db.ExecContext(ctx, q, id, string(status), errMsg, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddFiles upserts the files in one transaction.
func (r *RunPostgres) AddFiles(ctx context.Context, files []model.RunFile) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO run_files (run_id, backend, container, object_key, size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, object_key)
		DO UPDATE SET size = EXCLUDED.size, uploaded_at = EXCLUDED.uploaded_at
	`
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, q, f.RunID, f.Backend, f.Container, f.Key, f.Size, f.UploadedAt); err != nil {
			return fmt.Errorf("insert run file %s: %w", f.Key, err)
		}
	}
	return tx.Commit()
}

// FindByID fetches a single run and its files.
func (r *RunPostgres) FindByID(ctx context.Context, id string) (*model.Run, error) {
	q := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const qFiles = `
		SELECT run_id, backend, container, object_key, size, uploaded_at
		FROM run_files
		WHERE run_id = $1
		ORDER BY object_key
	`
	rows, err := r.db.QueryContext(ctx, qFiles, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f model.RunFile
		if err := rows.Scan(&f.RunID, &f.Backend, &f.Container, &f.Key, &f.Size, &f.UploadedAt); err != nil {
			return nil, err
		}
		run.Files = append(run.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs using LIMIT/OFFSET pagination and a total count.
func (r *RunPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Run], error) {
	const qCount = `SELECT COUNT(*) FROM pipeline_runs`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	qList := `SELECT ` + runColumns + ` FROM pipeline_runs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Run]{
		Items: items,
		Total: total,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var (
		run      model.Run
		status   string
		params   []byte
		started  sql.NullTime
		finished sql.NullTime
	)
	if err := s.Scan(
		&run.ID,
		&run.PipelineID,
		&status,
		&params,
		&run.Error,
		&run.CreatedAt,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, fmt.Errorf("decode params of run %s: %w", run.ID, err)
		}
	}
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func paramsOrEmpty(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}
