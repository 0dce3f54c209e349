package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dwpipe/internal/model"
	"dwpipe/internal/service"
)

type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) Pipelines() []model.PipelineInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]model.PipelineInfo)
}

func (m *MockRunService) Trigger(ctx context.Context, pipelineID string, params map[string]string) (*model.Run, error) {
	args := m.Called(ctx, pipelineID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *MockRunService) List(ctx context.Context, limit, offset int) (*service.RunListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RunListResult), args.Error(1)
}

func (m *MockRunService) Get(ctx context.Context, id string) (*model.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *MockRunService) Wait() {
	m.Called()
}
