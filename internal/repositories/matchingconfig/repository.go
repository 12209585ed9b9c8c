package matchingconfig

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const table = "matching_configurations"

type configRow struct {
	Scope     string                                        `db:"scope"`
	Config    database.JSONB[*models.MatchingConfiguration] `db:"config"`
	Version   string                                        `db:"version"`
	UpdatedAt time.Time                                     `db:"updated_at"`
}

// Repository stores matching configuration overrides by scope
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new matching configuration repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns the stored configuration for scope, or nil when there is none
func (r *Repository) Get(ctx context.Context, scope string) (*models.MatchingConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "matchingconfig.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("scope", "config", "version", "updated_at")
	sb.From(table)
	sb.Where(sb.Equal("scope", scope))

	query, args := sb.Build()
	var row configRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope}).Error("Failed to get matching configuration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get matching configuration")
	}
	if row.Config.Data == nil {
		return nil, nil
	}

	cfg := row.Config.Data
	cfg.Scope = row.Scope
	cfg.UpdatedAt = row.UpdatedAt
	return cfg, nil
}

// Upsert stores cfg under its scope
func (r *Repository) Upsert(ctx context.Context, cfg *models.MatchingConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "matchingconfig.Repository.Upsert")
	defer span.End()

	cfg.UpdatedAt = time.Now().UTC()

	sb := database.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("scope", "config", "version", "updated_at")
	sb.Values(cfg.Scope, database.NewJSONB(cfg), cfg.Version(), cfg.UpdatedAt)

	query, args := sb.Build()
	query += database.OnConflictUpdate([]string{"scope"}, []string{"config", "version", "updated_at"})

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": cfg.Scope}).Error("Failed to upsert matching configuration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save matching configuration")
	}

	return nil
}

// MemoryRepository keeps configuration overrides in process
type MemoryRepository struct {
	configs sync.Map
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Get(_ context.Context, scope string) (*models.MatchingConfiguration, error) {
	v, ok := m.configs.Load(scope)
	if !ok {
		return nil, nil
	}
	return v.(*models.MatchingConfiguration).Clone(), nil
}

func (m *MemoryRepository) Upsert(_ context.Context, cfg *models.MatchingConfiguration) error {
	cfg.UpdatedAt = time.Now().UTC()
	m.configs.Store(cfg.Scope, cfg.Clone())
	return nil
}
