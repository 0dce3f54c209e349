package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"dwpipe/internal/logger"
	"dwpipe/internal/model"
	"dwpipe/internal/pipeline"
	"dwpipe/internal/repository"
)

var (
	ErrIDRequired       = errors.New("id is required")
	ErrInvalidID        = errors.New("id must be a UUID")
	ErrNotFound         = errors.New("run not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrRunInProgress    = errors.New("a run of this pipeline is already in progress")
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// RunListResult is the service-level DTO for paginated runs.
type RunListResult struct {
	Items []model.Run `json:"data"`
	Total int         `json:"total"`
}

// RunService defines the use cases for pipeline runs.
type RunService interface {
	// Pipelines describes every registered pipeline, sorted by ID.
	Pipelines() []model.PipelineInfo

	// Trigger records a queued run and executes it in the background.
	Trigger(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, error)

	// List returns runs newest first using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*RunListResult, error)

	// Get returns a single run with its uploaded files.
	Get(ctx context.Context, id string) (*model.Run, error)

	// Wait blocks until every background run has finished.
	Wait()
}

// Starter begins pipeline runs; *pipeline.Runner implements it.
type Starter interface {
	Start(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, func(context.Context) error, error)
}

type runService struct {
	starter  Starter
	registry *pipeline.Registry
	repo     repository.RunRepository
	log      *slog.Logger
	inflight sync.WaitGroup
}

// NewRunService constructs a new RunService.
func NewRunService(starter Starter, registry *pipeline.Registry, repo repository.RunRepository, log *slog.Logger) RunService {
	if log == nil {
		log = logger.Discard()
	}
	return &runService{starter: starter, registry: registry, repo: repo, log: log}
}

func (s *runService) Pipelines() []model.PipelineInfo {
	list := s.registry.List()
	out := make([]model.PipelineInfo, 0, len(list))
	for _, p := range list {
		out = append(out, p.Info())
	}
	return out
}

func (s *runService) Trigger(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, error) {
	if pipelineID == "" {
		return nil, ErrIDRequired
	}
	run, exec, err := s.starter.Start(ctx, pipelineID, params)
	switch {
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		return nil, ErrPipelineNotFound
	case errors.Is(err, pipeline.ErrRunInProgress):
		return nil, ErrRunInProgress
	case err != nil:
		return nil, err
	}

	// The run outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := exec(bg); err != nil {
			s.log.Warn("background_run_failed", "run_id", run.ID, "pipeline", pipelineID, "error", err.Error())
		}
	}()
	return run, nil
}

// List clamps limit to [1, 100] (0 or less means 10) and offset to >= 0.
func (s *runService) List(ctx context.Context, limit, offset int) (*RunListResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &RunListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *runService) Get(ctx context.Context, id string) (*model.Run, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}
	run, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *runService) Wait() { s.inflight.Wait() }
