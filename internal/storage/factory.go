package storage

import (
	"context"
	"fmt"

	"dwpipe/internal/config"
)

// Opener builds a Storage bound to one bucket or container.
type Opener interface {
	Open(ctx context.Context, backend, container string) (Storage, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, backend, container string) (Storage, error)

func (f OpenerFunc) Open(ctx context.Context, backend, container string) (Storage, error) {
	return f(ctx, backend, container)
}

// Factory opens backends from environment configuration. Credentials are
// checked on every Open so a pipeline fails at its load step, not at startup.
type Factory struct {
	S3    config.S3Config
	Azure config.AzureConfig
}

// NewFactory returns a Factory for cfg.
func NewFactory(cfg *config.AppConfig) *Factory {
	return &Factory{S3: cfg.S3, Azure: cfg.Azure}
}

func (f *Factory) Open(ctx context.Context, backend, container string) (Storage, error) {
	switch backend {
	case BackendS3:
		return NewS3(ctx, f.S3, container)
	case BackendAzure:
		return NewAzure(f.Azure, container)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
