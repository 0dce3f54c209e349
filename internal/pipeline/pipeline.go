// Package pipeline runs linear extract-load pipelines made of named steps.
//
// Steps run in declaration order. Once a step fails, later AllSuccess steps
// are skipped while AllDone steps still run, so cleanup always happens.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dwpipe/internal/logger"
	"dwpipe/internal/model"
)

// Rule decides whether a step runs after an earlier failure.
type Rule int

const (
	// AllSuccess runs the step only when every previous step succeeded.
	AllSuccess Rule = iota
	// AllDone runs the step once every previous step finished, whatever the outcome.
	AllDone
)

func (r Rule) String() string {
	switch r {
	case AllSuccess:
		return "all_success"
	case AllDone:
		return "all_done"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// StepFunc is the body of a step. It reads and writes the shared run State.
type StepFunc func(ctx context.Context, st *State) error

// Step is one named unit of work.
type Step struct {
	Name string
	Rule Rule
	Run  StepFunc
}

// StepStatus is the outcome of a step within one execution.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult reports how a single step ended.
type StepResult struct {
	Name     string
	Status   StepStatus
	Err      error
	Duration time.Duration
}

// State is passed from step to step during one run.
type State struct {
	RunID    string
	Params   url.Values
	WorkDir  string
	Files    []string
	Uploaded []model.RunFile
	Log      *slog.Logger
}

// Pipeline is a registered, linear list of steps with a storage sink.
type Pipeline struct {
	ID          string
	Description string
	Tags        []string
	Sink        model.Sink
	Steps       []Step
}

// Info describes the pipeline for listings.
func (p *Pipeline) Info() model.PipelineInfo {
	names := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		names = append(names, s.Name)
	}
	return model.PipelineInfo{
		ID:          p.ID,
		Description: p.Description,
		Tags:        append([]string(nil), p.Tags...),
		Steps:       names,
		Sink:        p.Sink,
	}
}

// Execute runs every step and returns one result per step. The returned
// error joins the errors of all failed steps.
func (p *Pipeline) Execute(ctx context.Context, st *State) ([]StepResult, error) {
	if st.Log == nil {
		st.Log = logger.Discard()
	}
	log := st.Log.With("pipeline", p.ID)

	results := make([]StepResult, 0, len(p.Steps))
	var errs []error
	failed := false

	for _, step := range p.Steps {
		if failed && step.Rule == AllSuccess {
			results = append(results, StepResult{Name: step.Name, Status: StepSkipped})
			log.Info("step_skipped", "step", step.Name)
			continue
		}

		start := time.Now()
		err := p.traceStep(ctx, step, st)
		res := StepResult{Name: step.Name, Status: StepSuccess, Duration: time.Since(start)}
		if err != nil {
			failed = true
			res.Status = StepFailed
			res.Err = err
			errs = append(errs, fmt.Errorf("step %s: %w", step.Name, err))
			log.Error("step_failed", "step", step.Name, "error", err.Error(), "duration_ms", res.Duration.Milliseconds())
		} else {
			log.Info("step_succeeded", "step", step.Name, "duration_ms", res.Duration.Milliseconds())
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (p *Pipeline) traceStep(ctx context.Context, step Step, st *State) error {
	ctx, span := otel.Tracer("dwpipe/pipeline").Start(ctx, "step "+step.Name,
		trace.WithAttributes(
			attribute.String("pipeline.id", p.ID),
			attribute.String("pipeline.run_id", st.RunID),
			attribute.String("pipeline.step_rule", step.Rule.String()),
		))
	defer span.End()

	err := runStep(ctx, step, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// runStep turns a panic into an error so AllDone steps still get their turn.
func runStep(ctx context.Context, step Step, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if step.Rule == AllSuccess {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	return step.Run(ctx, st)
}
