package candidateindex

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

const defaultRebuildPageSize = 1000

// ProfileSource pages through stored profiles in key order
type ProfileSource interface {
	ListPage(ctx context.Context, q employeeprofile.PageQuery) ([]*models.EmployeeProfile, error)
}

// RebuildFrom loads every stored profile and rebuilds the index from them.
// Profiles hashed under another salt version are skipped.
func (i *Index) RebuildFrom(ctx context.Context, source ProfileSource, saltVersion, pageSize int) (int, int, error) {
	if pageSize < 1 {
		pageSize = defaultRebuildPageSize
	}

	var profiles []*models.EmployeeProfile
	query := employeeprofile.PageQuery{Limit: pageSize}
	for {
		page, err := source.ListPage(ctx, query)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to load profiles for index rebuild: %w", err)
		}
		profiles = append(profiles, page...)
		if len(page) < pageSize {
			break
		}
		last := page[len(page)-1].Ref()
		query.After = &last
	}

	return i.Rebuild(ctx, profiles, saltVersion)
}
