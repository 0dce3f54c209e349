// Package memory keeps the run ledger in process memory. It backs the API and
// CLI when no database is configured; runs are lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dwpipe/internal/model"
	"dwpipe/internal/repository"
)

type RunMemory struct {
	mu    sync.RWMutex
	runs  map[string]*model.Run
	files map[string]map[string]model.RunFile
}

func NewRunMemory() *RunMemory {
	return &RunMemory{
		runs:  map[string]*model.Run{},
		files: map[string]map[string]model.RunFile{},
	}
}

var _ repository.RunRepository = (*RunMemory)(nil)

func (m *RunMemory) Create(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneRun(run)
	cp.Files = nil
	m.runs[run.ID] = cp
	return nil
}

func (m *RunMemory) UpdateStatus(_ context.Context, id string, status model.RunStatus, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status.Terminal() {
		return repository.ErrNotFound
	}
	run.Status = status
	run.Error = errMsg
	switch {
	case status == model.RunRunning:
		run.StartedAt = &at
	case status.Terminal():
		run.FinishedAt = &at
	}
	return nil
}

func (m *RunMemory) AddFiles(_ context.Context, files []model.RunFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range files {
		if m.files[f.RunID] == nil {
			m.files[f.RunID] = map[string]model.RunFile{}
		}
		m.files[f.RunID][f.Key] = f
	}
	return nil
}

func (m *RunMemory) FindByID(_ context.Context, id string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneRun(run)
	for _, f := range m.files[id] {
		cp.Files = append(cp.Files, f)
	}
	sort.Slice(cp.Files, func(i, j int) bool { return cp.Files[i].Key < cp.Files[j].Key })
	return cp, nil
}

func (m *RunMemory) List(_ context.Context, pq repository.PageQuery) (*repository.PageResult[model.Run], error) {
	m.mu.RLock()
	all := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, *cloneRun(r))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	res := &repository.PageResult[model.Run]{Items: []model.Run{}, Total: len(all)}
	if pq.Offset >= len(all) {
		return res, nil
	}
	end := len(all)
	if pq.Limit > 0 && pq.Offset+pq.Limit < end {
		end = pq.Offset + pq.Limit
	}
	res.Items = all[pq.Offset:end]
	return res, nil
}

func cloneRun(r *model.Run) *model.Run {
	cp := *r
	if r.Params != nil {
		cp.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			cp.Params[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	cp.Files = append([]model.RunFile(nil), r.Files...)
	return &cp
}
