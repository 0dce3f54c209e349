package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
// It only moves forward: queued -> running -> success|failed.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// Run is one execution of a pipeline.
// This is a pure domain model with no database-specific dependencies or tags.
type Run struct {
	ID         string            `json:"id"`
	PipelineID string            `json:"pipeline_id"`
	Status     RunStatus         `json:"status"`
	Params     map[string]string `json:"params,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Files      []RunFile         `json:"files,omitempty"`
}

// RunFile records one object uploaded by a run.
type RunFile struct {
	RunID      string    `json:"run_id"`
	Backend    string    `json:"backend"`
	Container  string    `json:"container"`
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PipelineInfo is the public description of a registered pipeline.
type PipelineInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Steps       []string `json:"steps"`
	Sink        Sink     `json:"sink"`
}

// Sink names the storage backend and container a pipeline loads into.
type Sink struct {
	Backend   string `json:"backend"`
	Container string `json:"container"`
	Layer     string `json:"layer"`
}
