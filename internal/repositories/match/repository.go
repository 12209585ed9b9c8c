package match

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/database"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const (
	table        = "matches"
	defaultLimit = 100
	maxLimit     = 500
)

var columns = []string{
	"id",
	"employee1_company_id", "employee1_id", "employee1_key", "employee1_version",
	"employee2_company_id", "employee2_id", "employee2_key", "employee2_version",
	"confidence_score", "match_factors", "temporal_overlap", "overlap_days", "adjusted_overlap_days", "within_grace_period",
	"risk_level", "status", "reviewed", "config_version", "created_at", "updated_at",
}

type matchRow struct {
	ID                  string                               `db:"id"`
	Employee1CompanyID  string                               `db:"employee1_company_id"`
	Employee1ID         string                               `db:"employee1_id"`
	Employee1Key        string                               `db:"employee1_key"`
	Employee1Version    int64                                `db:"employee1_version"`
	Employee2CompanyID  string                               `db:"employee2_company_id"`
	Employee2ID         string                               `db:"employee2_id"`
	Employee2Key        string                               `db:"employee2_key"`
	Employee2Version    int64                                `db:"employee2_version"`
	ConfidenceScore     float64                              `db:"confidence_score"`
	MatchFactors        database.JSONB[[]models.MatchFactor] `db:"match_factors"`
	TemporalOverlap     bool                                 `db:"temporal_overlap"`
	OverlapDays         int                                  `db:"overlap_days"`
	AdjustedOverlapDays int                                  `db:"adjusted_overlap_days"`
	WithinGracePeriod   bool                                 `db:"within_grace_period"`
	RiskLevel           string                               `db:"risk_level"`
	Status              string                               `db:"status"`
	Reviewed            bool                                 `db:"reviewed"`
	ConfigVersion       string                               `db:"config_version"`
	CreatedAt           time.Time                            `db:"created_at"`
	UpdatedAt           time.Time                            `db:"updated_at"`
}

func (r *matchRow) toModel() *models.Match {
	return &models.Match{
		ID:                  r.ID,
		Employee1:           models.EmployeeRef{CompanyID: r.Employee1CompanyID, EmployeeID: r.Employee1ID},
		Employee2:           models.EmployeeRef{CompanyID: r.Employee2CompanyID, EmployeeID: r.Employee2ID},
		Employee1Version:    r.Employee1Version,
		Employee2Version:    r.Employee2Version,
		ConfidenceScore:     r.ConfidenceScore,
		MatchFactors:        r.MatchFactors.Data,
		TemporalOverlap:     r.TemporalOverlap,
		OverlapDays:         r.OverlapDays,
		AdjustedOverlapDays: r.AdjustedOverlapDays,
		WithinGracePeriod:   r.WithinGracePeriod,
		RiskLevel:           models.RiskLevel(r.RiskLevel),
		Status:              models.MatchStatus(r.Status),
		Reviewed:            r.Reviewed,
		ConfigVersion:       r.ConfigVersion,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func rowsToModels(rows []matchRow) []*models.Match {
	out := make([]*models.Match, len(rows))
	for n := range rows {
		out[n] = rows[n].toModel()
	}
	return out
}

// PairKey is the unique key of a canonical pair
func PairKey(a, b models.EmployeeRef) string {
	return a.Key() + "|" + b.Key()
}

// Repository handles match persistence. Rows are never deleted.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a match by id
func (r *Repository) Get(ctx context.Context, id string) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row matchRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match")
	}

	return row.toModel(), nil
}

// GetByPair returns the match for a canonical pair, or nil when none exists
func (r *Repository) GetByPair(ctx context.Context, a, b models.EmployeeRef) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.GetByPair")
	defer span.End()

	first, second, _ := models.CanonicalPair(a, b)

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("employee1_key", first.Key()),
		sb.Equal("employee2_key", second.Key()),
	)

	query, args := sb.Build()
	var row matchRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"pair": PairKey(first, second)}).Error("Failed to get match by pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match")
	}

	return row.toModel(), nil
}

// Insert creates a match for a pair that has none. A concurrent insert of the
// same pair surfaces as a PersistenceConflict.
func (r *Repository) Insert(ctx context.Context, m *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.Insert")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	sb := database.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		m.ID,
		m.Employee1.CompanyID, m.Employee1.EmployeeID, m.Employee1.Key(), m.Employee1Version,
		m.Employee2.CompanyID, m.Employee2.EmployeeID, m.Employee2.Key(), m.Employee2Version,
		m.ConfidenceScore, database.NewJSONB(m.MatchFactors), m.TemporalOverlap, m.OverlapDays, m.AdjustedOverlapDays, m.WithinGracePeriod,
		string(m.RiskLevel), string(m.Status), m.Reviewed, m.ConfigVersion, m.CreatedAt, m.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsConflict(err) {
			return matcherrors.NewPersistenceConflict(PairKey(m.Employee1, m.Employee2), err)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": m.ID}).Error("Failed to insert match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert match")
	}

	return nil
}

// Update rewrites the scoring outcome of an existing match. A row that has
// been reviewed keeps its stored status and review flag even when the review
// landed after m was read; m is updated with the values that were kept.
func (r *Repository) Update(ctx context.Context, m *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.Update")
	defer span.End()

	m.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("employee1_version", m.Employee1Version),
		ub.Assign("employee2_version", m.Employee2Version),
		ub.Assign("confidence_score", m.ConfidenceScore),
		ub.Assign("match_factors", database.NewJSONB(m.MatchFactors)),
		ub.Assign("temporal_overlap", m.TemporalOverlap),
		ub.Assign("overlap_days", m.OverlapDays),
		ub.Assign("adjusted_overlap_days", m.AdjustedOverlapDays),
		ub.Assign("within_grace_period", m.WithinGracePeriod),
		ub.Assign("risk_level", string(m.RiskLevel)),
		"status = CASE WHEN reviewed THEN status ELSE "+ub.Var(string(m.Status))+" END",
		"reviewed = reviewed OR "+ub.Var(m.Reviewed),
		ub.Assign("config_version", m.ConfigVersion),
		ub.Assign("updated_at", m.UpdatedAt),
	)
	ub.Where(ub.Equal("id", m.ID))

	query, args := ub.Build()
	var kept struct {
		Status   string `db:"status"`
		Reviewed bool   `db:"reviewed"`
	}
	if err := r.db.GetContext(ctx, &kept, query+" RETURNING status, reviewed", args...); err != nil {
		if database.IsNoRows(err) {
			return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", m.ID))
		}
		if database.IsConflict(err) {
			return matcherrors.NewPersistenceConflict(PairKey(m.Employee1, m.Employee2), err)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": m.ID}).Error("Failed to update match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match")
	}

	m.Status = models.MatchStatus(kept.Status)
	m.Reviewed = kept.Reviewed
	return nil
}

// Review records a human decision on a match
func (r *Repository) Review(ctx context.Context, id string, status models.MatchStatus) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.Review")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", string(status)),
		ub.Assign("reviewed", true),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": id}).Error("Failed to review match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to review match")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match %s not found", id))
	}

	return r.Get(ctx, id)
}

// List returns matches narrowed by filter, most confident first
func (r *Repository) List(ctx context.Context, filter models.MatchFilter) ([]*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "match.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)

	var where []string
	if filter.CompanyID != "" && filter.EmployeeID != "" {
		where = append(where, sb.Or(
			sb.And(sb.Equal("employee1_company_id", filter.CompanyID), sb.Equal("employee1_id", filter.EmployeeID)),
			sb.And(sb.Equal("employee2_company_id", filter.CompanyID), sb.Equal("employee2_id", filter.EmployeeID)),
		))
	} else if filter.CompanyID != "" {
		where = append(where, sb.Or(
			sb.Equal("employee1_company_id", filter.CompanyID),
			sb.Equal("employee2_company_id", filter.CompanyID),
		))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("status", string(filter.Status)))
	}
	if filter.MinRisk != "" {
		where = append(where, sb.In("risk_level", riskAtLeast(filter.MinRisk)...))
	}
	if filter.MinConfidence > 0 {
		where = append(where, sb.GreaterEqualThan("confidence_score", filter.MinConfidence))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}

	limit := filter.Limit
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	sb.OrderBy("confidence_score DESC", "created_at DESC", "id")
	sb.Limit(limit)
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	var rows []matchRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list matches")
	}

	return rowsToModels(rows), nil
}

func riskAtLeast(floor models.RiskLevel) []any {
	var levels []any
	for _, level := range []models.RiskLevel{models.RiskInformational, models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical} {
		if level.AtLeast(floor) {
			levels = append(levels, string(level))
		}
	}
	return levels
}
