package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dwpipe/internal/model"
	"dwpipe/internal/repository"
)

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) UpdateStatus(ctx context.Context, id string, status model.RunStatus, errMsg string, at time.Time) error {
	args := m.Called(ctx, id, status, errMsg, at)
	return args.Error(0)
}

func (m *MockRunRepository) AddFiles(ctx context.Context, files []model.RunFile) error {
	args := m.Called(ctx, files)
	return args.Error(0)
}

func (m *MockRunRepository) FindByID(ctx context.Context, id string) (*model.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Run], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Run]), args.Error(1)
}
