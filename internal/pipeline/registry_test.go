package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwpipe/internal/model"
)

func noop(context.Context, *State) error { return nil }

func validPipeline(id string) *Pipeline {
	return &Pipeline{
		ID:   id,
		Sink: model.Sink{Backend: "azure", Container: "airflow-datawarehouse", Layer: "Bronze"},
		Steps: []Step{
			{Name: "a", Run: noop},
			{Name: "b", Rule: AllDone, Run: noop},
		},
	}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validPipeline("zeta")))
	require.NoError(t, r.Register(validPipeline("alpha")))

	err := r.Register(validPipeline("alpha"))
	assert.True(t, errors.Is(err, ErrDuplicatePipeline))
	assert.Error(t, r.Register(&Pipeline{}))

	p, err := r.Get("zeta")
	require.NoError(t, err)
	assert.Equal(t, "zeta", p.ID)

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrPipelineNotFound))

	ids := []string{}
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, ids)
	assert.NoError(t, r.Validate())
}

func TestPipeline_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantErr string
	}{
		{"valid", func(p *Pipeline) {}, ""},
		{"no steps", func(p *Pipeline) { p.Steps = nil }, "pipeline p: no steps"},
		{"duplicate step", func(p *Pipeline) { p.Steps[1].Name = "a" }, `pipeline p: duplicate step "a"`},
		{"unnamed step", func(p *Pipeline) { p.Steps[0].Name = "" }, "pipeline p: step 0 has no name"},
		{"nil func", func(p *Pipeline) { p.Steps[0].Run = nil }, `pipeline p: step "a" has no function`},
		{"bad rule", func(p *Pipeline) { p.Steps[0].Rule = Rule(9) }, `pipeline p: step "a" has unknown trigger rule rule(9)`},
		{"bad backend", func(p *Pipeline) { p.Sink.Backend = "gcs" }, `pipeline p: unknown sink backend "gcs"`},
		{"no container", func(p *Pipeline) { p.Sink.Container = "" }, "pipeline p: sink container is required"},
		{"no layer", func(p *Pipeline) { p.Sink.Layer = "" }, "pipeline p: sink layer is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline("p")
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_ValidateJoinsErrors(t *testing.T) {
	r := NewRegistry()
	bad := validPipeline("bad")
	bad.Steps = nil
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(validPipeline("good")))

	assert.EqualError(t, r.Validate(), "pipeline bad: no steps")
}
