package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dwpipe/internal/storage"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Backend() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStorage) Container() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStorage) UploadFile(ctx context.Context, localPath, folder string) (storage.ObjectInfo, error) {
	args := m.Called(ctx, localPath, folder)
	if f, ok := args.Get(0).(func(context.Context, string, string) storage.ObjectInfo); ok {
		return f(ctx, localPath, folder), args.Error(1)
	}
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

func (m *MockStorage) Download(ctx context.Context, key, localPath string) ([]byte, error) {
	args := m.Called(ctx, key, localPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.ObjectInfo), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) Open(ctx context.Context, backend, container string) (storage.Storage, error) {
	args := m.Called(ctx, backend, container)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Storage), args.Error(1)
}
