package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dwpipe/internal/lock"
	"dwpipe/internal/model"
	"dwpipe/internal/pipeline"
	"dwpipe/internal/repository"
	"dwpipe/internal/repository/memory"
	repoMocks "dwpipe/internal/repository/mocks"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, func(context.Context) error, error) {
	args := m.Called(ctx, pipelineID, params)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Run), args.Get(1).(func(context.Context) error), args.Error(2)
}

func testRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	reg := pipeline.NewRegistry()
	for _, id := range []string{"zeta", "alpha"} {
		require.NoError(t, reg.Register(&pipeline.Pipeline{
			ID:    id,
			Sink:  model.Sink{Backend: "s3", Container: "test-bucket", Layer: "Bronze"},
			Steps: []pipeline.Step{{Name: "only", Run: func(context.Context, *pipeline.State) error { return nil }}},
		}))
	}
	return reg
}

func TestRunService_Pipelines(t *testing.T) {
	svc := NewRunService(&mockStarter{}, testRegistry(t), &repoMocks.MockRunRepository{}, nil)

	infos := svc.Pipelines()

	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, []string{"only"}, infos[0].Steps)
}

func TestRunService_Trigger(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		pipelineID string
		setup      func(m *mockStarter, executed chan struct{})
		wantErr    error
	}{
		{
			name:       "starts in background",
			pipelineID: "alpha",
			setup: func(m *mockStarter, executed chan struct{}) {
				exec := func(ctx context.Context) error {
					assert.NoError(t, ctx.Err())
					close(executed)
					return nil
				}
				m.On("Start", ctx, "alpha", map[string]string{"k": "v"}).
					Return(&model.Run{ID: "r1", Status: model.RunQueued}, exec, nil)
			},
		},
		{
			name:       "empty id",
			pipelineID: "",
			setup:      func(*mockStarter, chan struct{}) {},
			wantErr:    ErrIDRequired,
		},
		{
			name:       "unknown pipeline",
			pipelineID: "nope",
			setup: func(m *mockStarter, _ chan struct{}) {
				m.On("Start", ctx, "nope", mock.Anything).
					Return(nil, nil, fmt.Errorf("%w: nope", pipeline.ErrPipelineNotFound))
			},
			wantErr: ErrPipelineNotFound,
		},
		{
			name:       "already running",
			pipelineID: "alpha",
			setup: func(m *mockStarter, _ chan struct{}) {
				m.On("Start", ctx, "alpha", mock.Anything).
					Return(nil, nil, fmt.Errorf("%w: alpha", pipeline.ErrRunInProgress))
			},
			wantErr: ErrRunInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockStarter{}
			executed := make(chan struct{})
			tt.setup(m, executed)
			svc := NewRunService(m, testRegistry(t), &repoMocks.MockRunRepository{}, nil)

			run, err := svc.Trigger(ctx, tt.pipelineID, map[string]string{"k": "v"})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, run)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "r1", run.ID)
			svc.Wait()
			select {
			case <-executed:
			default:
				t.Fatal("run was not executed")
			}
			m.AssertExpectations(t)
		})
	}
}

func TestRunService_Trigger_OutlivesRequest(t *testing.T) {
	reg := testRegistry(t)
	repo := memory.NewRunMemory()
	runner := pipeline.NewRunner(reg, repo, lock.NewLocal(), pipeline.RunnerOptions{})
	svc := NewRunService(runner, reg, repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := svc.Trigger(ctx, "alpha", nil)
	require.NoError(t, err)
	cancel()
	svc.Wait()

	got, err := svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, got.Status)
}

func TestRunService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		limit      int
		offset     int
		wantQuery  repository.PageQuery
		repoErr    error
		wantErrMsg string
	}{
		{name: "defaults", limit: 0, offset: -5, wantQuery: repository.PageQuery{Limit: 10, Offset: 0}},
		{name: "passthrough", limit: 20, offset: 40, wantQuery: repository.PageQuery{Limit: 20, Offset: 40}},
		{name: "capped", limit: 1000, offset: 0, wantQuery: repository.PageQuery{Limit: 100, Offset: 0}},
		{name: "repo error", limit: 10, wantQuery: repository.PageQuery{Limit: 10}, repoErr: errors.New("db down"), wantErrMsg: "db down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := &repoMocks.MockRunRepository{}
			if tt.repoErr != nil {
				mRepo.On("List", ctx, tt.wantQuery).Return(nil, tt.repoErr)
			} else {
				mRepo.On("List", ctx, tt.wantQuery).Return(&repository.PageResult[model.Run]{
					Items: []model.Run{{ID: "a"}}, Total: 1,
				}, nil)
			}
			svc := NewRunService(&mockStarter{}, testRegistry(t), mRepo, nil)

			res, err := svc.List(ctx, tt.limit, tt.offset)

			if tt.wantErrMsg != "" {
				assert.EqualError(t, err, tt.wantErrMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, 1, res.Total)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestRunService_Get(t *testing.T) {
	ctx := context.Background()
	const id = "7f1c2a52-8d0a-4c1e-9a43-1b2f6c3d4e5f"

	tests := []struct {
		name    string
		id      string
		setup   func(m *repoMocks.MockRunRepository)
		wantErr error
	}{
		{
			name: "found",
			id:   id,
			setup: func(m *repoMocks.MockRunRepository) {
				m.On("FindByID", ctx, id).Return(&model.Run{ID: id}, nil)
			},
		},
		{name: "empty", id: "", setup: func(*repoMocks.MockRunRepository) {}, wantErr: ErrIDRequired},
		{name: "not a uuid", id: "abc", setup: func(*repoMocks.MockRunRepository) {}, wantErr: ErrInvalidID},
		{
			name: "missing",
			id:   id,
			setup: func(m *repoMocks.MockRunRepository) {
				m.On("FindByID", ctx, id).Return(nil, repository.ErrNotFound)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := &repoMocks.MockRunRepository{}
			tt.setup(mRepo)
			svc := NewRunService(&mockStarter{}, testRegistry(t), mRepo, nil)

			run, err := svc.Get(ctx, tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, run)
			} else {
				require.NoError(t, err)
				assert.Equal(t, id, run.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}
