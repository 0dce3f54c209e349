// Package repository contains the run ledger data access abstractions.
// Implementations live in subpackages: postgres for production, memory for
// single-process use without a database.
package repository

import (
	"context"
	"errors"
	"time"

	"dwpipe/internal/model"
)

// ErrNotFound is returned when no run matches, or when a status update targets
// a run that already finished.
var ErrNotFound = errors.New("repository: run not found")

// RunRepository persists pipeline runs and the files they uploaded.
// No business logic here, strictly persistence operations.
type RunRepository interface {
	// Create inserts a new run. ID and CreatedAt must be set by the caller.
	Create(ctx context.Context, run *model.Run) error

	// UpdateStatus moves a run forward. Moving to running stamps started_at;
	// moving to a terminal status stamps finished_at and stores errMsg.
	UpdateStatus(ctx context.Context, id string, status model.RunStatus, errMsg string, at time.Time) error

	// AddFiles records uploaded objects. Re-recording a key overwrites it.
	AddFiles(ctx context.Context, files []model.RunFile) error

	// FindByID returns a run with its files.
	FindByID(ctx context.Context, id string) (*model.Run, error)

	// List returns runs newest first, without files, and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Run], error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
