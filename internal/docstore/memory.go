package docstore

import (
	"context"
	"sort"
	"sync"
)

// memoryRunRepository keeps runs in process memory. It backs tests and
// deployments without a redis instance.
type memoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

func NewMemoryRunRepository() RunRepository {
	return &memoryRunRepository{runs: make(map[string]RunRecord)}
}

func (m *memoryRunRepository) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRunRepository) GetRun(_ context.Context, id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return RunRecord{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memoryRunRepository) GetAllRuns(_ context.Context) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (m *memoryRunRepository) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}
