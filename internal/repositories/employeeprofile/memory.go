package employeeprofile

import (
	"context"
	"sort"
	"sync"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// MemoryRepository keeps profiles in process. It backs tests and single-node
// runs without Postgres.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[models.EmployeeRef]*models.EmployeeProfile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: map[models.EmployeeRef]*models.EmployeeProfile{}}
}

func clone(p *models.EmployeeProfile) *models.EmployeeProfile {
	c := *p
	c.Identifiers.Absent = append([]models.IdentifierKind(nil), p.Identifiers.Absent...)
	return &c
}

func (m *MemoryRepository) Get(_ context.Context, ref models.EmployeeRef) (*models.EmployeeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[ref]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (m *MemoryRepository) Upsert(_ context.Context, profile *models.EmployeeProfile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[profile.Ref()]; ok && existing.Version > profile.Version {
		return false, nil
	}
	m.profiles[profile.Ref()] = clone(profile)
	return true, nil
}

func (m *MemoryRepository) matching(q PageQuery) []*models.EmployeeProfile {
	var out []*models.EmployeeProfile
	for _, p := range m.profiles {
		if q.CompanyID != "" && p.CompanyID != q.CompanyID {
			continue
		}
		if q.UpdatedSince != nil && p.UpdatedAt.Before(*q.UpdatedSince) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyID != out[j].CompanyID {
			return out[i].CompanyID < out[j].CompanyID
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

func (m *MemoryRepository) ListPage(_ context.Context, q PageQuery) ([]*models.EmployeeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var page []*models.EmployeeProfile
	for _, p := range m.matching(q) {
		if q.After != nil {
			if p.CompanyID < q.After.CompanyID || (p.CompanyID == q.After.CompanyID && p.EmployeeID <= q.After.EmployeeID) {
				continue
			}
		}
		page = append(page, clone(p))
		if q.Limit > 0 && len(page) == q.Limit {
			break
		}
	}
	return page, nil
}

func (m *MemoryRepository) Count(_ context.Context, q PageQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(q)), nil
}

func (m *MemoryRepository) GetMany(_ context.Context, refs []models.EmployeeRef) ([]*models.EmployeeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.EmployeeProfile, 0, len(refs))
	for _, ref := range refs {
		if p, ok := m.profiles[ref]; ok {
			out = append(out, clone(p))
		}
	}
	return out, nil
}
