package match

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// MemoryRepository keeps matches in process, enforcing the same one-row-per-pair
// constraint as the matches table
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.Match
	byPair map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   map[string]*models.Match{},
		byPair: map[string]string{},
	}
}

func cloneMatch(m *models.Match) *models.Match {
	c := *m
	c.MatchFactors = append([]models.MatchFactor(nil), m.MatchFactors...)
	return &c
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", id))
	}
	return cloneMatch(m), nil
}

func (r *MemoryRepository) GetByPair(_ context.Context, a, b models.EmployeeRef) (*models.Match, error) {
	first, second, _ := models.CanonicalPair(a, b)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[PairKey(first, second)]
	if !ok {
		return nil, nil
	}
	return cloneMatch(r.byID[id]), nil
}

func (r *MemoryRepository) Insert(_ context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := PairKey(m.Employee1, m.Employee2)
	if _, exists := r.byPair[key]; exists {
		return matcherrors.NewPersistenceConflict(key, fmt.Errorf("pair already has a match"))
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.byID[m.ID] = cloneMatch(m)
	r.byPair[key] = m.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[m.ID]
	if !ok {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", m.ID))
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	if existing.Reviewed {
		m.Status = existing.Status
		m.Reviewed = true
	}
	r.byID[m.ID] = cloneMatch(m)
	return nil
}

func (r *MemoryRepository) Review(_ context.Context, id string, status models.MatchStatus) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", id))
	}
	m.Status = status
	m.Reviewed = true
	m.UpdatedAt = time.Now().UTC()
	return cloneMatch(m), nil
}

func (r *MemoryRepository) List(_ context.Context, filter models.MatchFilter) ([]*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Match
	for _, m := range r.byID {
		if !matchesFilter(m, filter) {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored matches
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func matchesFilter(m *models.Match, filter models.MatchFilter) bool {
	involves := func(ref models.EmployeeRef) bool {
		if filter.CompanyID != "" && ref.CompanyID != filter.CompanyID {
			return false
		}
		return filter.EmployeeID == "" || ref.EmployeeID == filter.EmployeeID
	}
	if (filter.CompanyID != "" || filter.EmployeeID != "") && !involves(m.Employee1) && !involves(m.Employee2) {
		return false
	}
	if filter.Status != "" && m.Status != filter.Status {
		return false
	}
	if filter.MinRisk != "" && !m.RiskLevel.AtLeast(filter.MinRisk) {
		return false
	}
	return m.ConfidenceScore >= filter.MinConfidence
}
