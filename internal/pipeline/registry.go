package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"dwpipe/internal/storage"
)

var (
	// ErrPipelineNotFound is returned for unknown pipeline IDs.
	ErrPipelineNotFound = errors.New("pipeline: not found")
	// ErrDuplicatePipeline is returned when an ID is registered twice.
	ErrDuplicatePipeline = errors.New("pipeline: duplicate id")
)

// Registry holds the pipelines a process can run.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: map[string]*Pipeline{}}
}

// Register adds p. IDs must be unique.
func (r *Registry) Register(p *Pipeline) error {
	if p == nil || p.ID == "" {
		return errors.New("pipeline: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePipeline, p.ID)
	}
	r.pipelines[p.ID] = p
	return nil
}

// Get returns the pipeline registered under id.
func (r *Registry) Get(id string) (*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	return p, nil
}

// List returns all pipelines sorted by ID.
func (r *Registry) List() []*Pipeline {
	r.mu.RLock()
	out := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks every registered pipeline and joins the problems found.
func (r *Registry) Validate() error {
	var errs []error
	for _, p := range r.List() {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate reports structural problems: missing steps, duplicate or empty step
// names, nil step functions and an incomplete sink.
func (p *Pipeline) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("pipeline %s: "+format, append([]any{p.ID}, args...)...))
	}

	if p.ID == "" {
		add("id is required")
	}
	if len(p.Steps) == 0 {
		add("no steps")
	}
	seen := map[string]bool{}
	for i, s := range p.Steps {
		switch {
		case s.Name == "":
			add("step %d has no name", i)
		case seen[s.Name]:
			add("duplicate step %q", s.Name)
		}
		seen[s.Name] = true
		if s.Run == nil {
			add("step %q has no function", s.Name)
		}
		if s.Rule != AllSuccess && s.Rule != AllDone {
			add("step %q has unknown trigger rule %s", s.Name, s.Rule)
		}
	}
	switch p.Sink.Backend {
	case storage.BackendS3, storage.BackendAzure:
	default:
		add("unknown sink backend %q", p.Sink.Backend)
	}
	if p.Sink.Container == "" {
		add("sink container is required")
	}
	if p.Sink.Layer == "" {
		add("sink layer is required")
	}
	return errors.Join(errs...)
}
