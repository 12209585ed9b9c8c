package run

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// MemoryRepository keeps run summaries in process
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*models.RunSummary
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: map[string]*models.RunSummary{}}
}

func (m *MemoryRepository) Save(_ context.Context, summary *models.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[summary.JobID] = summary.Snapshot()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, jobID string) (*models.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[jobID]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", jobID))
	}
	return s.Snapshot(), nil
}

func (m *MemoryRepository) LastSuccessful(_ context.Context, scope string) (*models.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *models.RunSummary
	for _, s := range m.runs {
		if s.Scope != scope || s.Status != models.RunStatusSucceeded {
			continue
		}
		if last == nil || s.StartedAt.After(last.StartedAt) {
			last = s
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Snapshot(), nil
}
