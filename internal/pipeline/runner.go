package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"dwpipe/internal/lock"
	"dwpipe/internal/logger"
	"dwpipe/internal/metrics"
	"dwpipe/internal/model"
	"dwpipe/internal/repository"
)

// ErrRunInProgress is returned by Start while another run of the same pipeline holds the lock.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// RunnerOptions tunes a Runner. Zero values fall back to defaults.
type RunnerOptions struct {
	LockTTL time.Duration
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
	Now     func() time.Time
}

// Runner starts pipeline runs and records them in the run ledger.
type Runner struct {
	registry *Registry
	repo     repository.RunRepository
	locker   lock.Locker
	opts     RunnerOptions
}

// NewRunner wires a Runner.
func NewRunner(reg *Registry, repo repository.RunRepository, locker lock.Locker, opts RunnerOptions) *Runner {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{registry: reg, repo: repo, locker: locker, opts: opts}
}

// Registry returns the pipelines this runner can start.
func (r *Runner) Registry() *Registry { return r.registry }

// Start takes the pipeline lock and records a queued run. The returned func
// executes the run and must be called exactly once: it releases the lock when
// it returns. Its error is the joined error of the failed steps.
func (r *Runner) Start(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, func(context.Context) error, error) {
	p, err := r.registry.Get(pipelineID)
	if err != nil {
		return nil, nil, err
	}

	release, err := r.locker.Acquire(ctx, pipelineID, r.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, pipelineID)
		}
		return nil, nil, err
	}

	run := &model.Run{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Status:     model.RunQueued,
		Params:     params,
		CreatedAt:  r.opts.Now().UTC(),
	}
	if err := r.repo.Create(ctx, run); err != nil {
		r.release(release, pipelineID)
		return nil, nil, fmt.Errorf("record run: %w", err)
	}
	r.opts.Logger.Info("run_queued", "run_id", run.ID, "pipeline", pipelineID)

	exec := func(ctx context.Context) error {
		defer r.release(release, pipelineID)
		return r.execute(ctx, p, run.ID, params)
	}
	return run, exec, nil
}

func (r *Runner) execute(ctx context.Context, p *Pipeline, runID string, params map[string]string) error {
	log := r.opts.Logger.With("run_id", runID, "pipeline", p.ID)
	start := r.opts.Now()

	if err := r.repo.UpdateStatus(ctx, runID, model.RunRunning, "", start.UTC()); err != nil {
		log.Error("run_status_update_failed", "status", model.RunRunning, "error", err.Error())
	}
	log.Info("run_started")

	st := &State{RunID: runID, Params: toValues(params), Log: log}
	_, runErr := p.Execute(ctx, st)

	// Record uploads even when a later step failed; the objects exist.
	if len(st.Uploaded) > 0 {
		if err := r.repo.AddFiles(context.WithoutCancel(ctx), st.Uploaded); err != nil {
			log.Error("run_files_record_failed", "error", err.Error())
			runErr = errors.Join(runErr, fmt.Errorf("record files: %w", err))
		}
	}

	status, msg := model.RunSuccess, ""
	if runErr != nil {
		status, msg = model.RunFailed, runErr.Error()
	}
	finished := r.opts.Now()
	if err := r.repo.UpdateStatus(context.WithoutCancel(ctx), runID, status, msg, finished.UTC()); err != nil {
		log.Error("run_status_update_failed", "status", status, "error", err.Error())
	}

	elapsed := finished.Sub(start)
	r.opts.Metrics.RunFinished(p.ID, string(status), elapsed)
	if runErr != nil {
		log.Error("run_failed", "error", msg, "duration_ms", elapsed.Milliseconds(), "files", len(st.Uploaded))
	} else {
		log.Info("run_succeeded", "duration_ms", elapsed.Milliseconds(), "files", len(st.Uploaded))
	}
	return runErr
}

func (r *Runner) release(release lock.Release, pipelineID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		r.opts.Logger.Error("run_lock_release_failed", "pipeline", pipelineID, "error", err.Error())
	}
}

func toValues(params map[string]string) url.Values {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v
}
