package employeeprofile

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const table = "employee_profiles"

var columns = []string{"company_id", "employee_id", "version", "identifiers", "start_date", "end_date", "employee_type", "fingerprint", "salt_version", "updated_at"}

// PageQuery selects one keyset page of profiles ordered by (company_id, employee_id)
type PageQuery struct {
	CompanyID    string
	UpdatedSince *time.Time
	After        *models.EmployeeRef
	Limit        int
}

type profileRow struct {
	CompanyID    string                                     `db:"company_id"`
	EmployeeID   string                                     `db:"employee_id"`
	Version      int64                                      `db:"version"`
	Identifiers  database.JSONB[models.HashedIdentifierSet] `db:"identifiers"`
	StartDate    time.Time                                  `db:"start_date"`
	EndDate      *time.Time                                 `db:"end_date"`
	EmployeeType string                                     `db:"employee_type"`
	Fingerprint  string                                     `db:"fingerprint"`
	SaltVersion  int                                        `db:"salt_version"`
	UpdatedAt    time.Time                                  `db:"updated_at"`
}

func (r *profileRow) toModel() *models.EmployeeProfile {
	ids := r.Identifiers.Data
	ids.SaltVersion = r.SaltVersion
	return &models.EmployeeProfile{
		CompanyID:    r.CompanyID,
		EmployeeID:   r.EmployeeID,
		Version:      r.Version,
		Identifiers:  ids,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		EmployeeType: models.EmployeeType(r.EmployeeType),
		Fingerprint:  r.Fingerprint,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Repository persists hashed employee profiles
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new employee profile repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns the profile for ref, or nil when it does not exist
func (r *Repository) Get(ctx context.Context, ref models.EmployeeRef) (*models.EmployeeProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "employeeprofile.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("company_id", ref.CompanyID),
		sb.Equal("employee_id", ref.EmployeeID),
	)

	query, args := sb.Build()
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"employee": ref.Key()}).Error("Failed to get employee profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get employee profile")
	}

	return row.toModel(), nil
}

// Upsert writes the profile unless the stored version is newer. The boolean
// reports whether the row was written.
func (r *Repository) Upsert(ctx context.Context, profile *models.EmployeeProfile) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "employeeprofile.Repository.Upsert")
	defer span.End()

	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	sb := database.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		profile.CompanyID,
		profile.EmployeeID,
		profile.Version,
		database.NewJSONB(profile.Identifiers),
		profile.StartDate,
		profile.EndDate,
		string(profile.EmployeeType),
		profile.Fingerprint,
		profile.Identifiers.SaltVersion,
		profile.UpdatedAt,
	)

	query, args := sb.Build()
	query += database.OnConflictUpdate(
		[]string{"company_id", "employee_id"},
		[]string{"version", "identifiers", "start_date", "end_date", "employee_type", "fingerprint", "salt_version", "updated_at"},
	)
	query += " WHERE employee_profiles.version <= EXCLUDED.version"

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"employee": profile.Ref().Key()}).Error("Failed to upsert employee profile")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert employee profile")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) pageSelect(q PageQuery) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)

	var where []string
	if q.CompanyID != "" {
		where = append(where, sb.Equal("company_id", q.CompanyID))
	}
	if q.UpdatedSince != nil {
		where = append(where, sb.GreaterEqualThan("updated_at", *q.UpdatedSince))
	}
	if q.After != nil {
		where = append(where, fmt.Sprintf("(company_id, employee_id) > (%s, %s)", sb.Var(q.After.CompanyID), sb.Var(q.After.EmployeeID)))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("company_id", "employee_id")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}
	return sb.Build()
}

// ListPage returns one page of profiles after q.After in key order
func (r *Repository) ListPage(ctx context.Context, q PageQuery) ([]*models.EmployeeProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "employeeprofile.Repository.ListPage")
	defer span.End()

	query, args := r.pageSelect(q)
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list employee profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list employee profiles")
	}

	profiles := make([]*models.EmployeeProfile, len(rows))
	for n := range rows {
		profiles[n] = rows[n].toModel()
	}
	return profiles, nil
}

// Count returns how many profiles q selects, ignoring After and Limit
func (r *Repository) Count(ctx context.Context, q PageQuery) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "employeeprofile.Repository.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)
	var where []string
	if q.CompanyID != "" {
		where = append(where, sb.Equal("company_id", q.CompanyID))
	}
	if q.UpdatedSince != nil {
		where = append(where, sb.GreaterEqualThan("updated_at", *q.UpdatedSince))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count employee profiles")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count employee profiles")
	}
	return count, nil
}

// GetMany loads the profiles for refs. Missing refs are left out.
func (r *Repository) GetMany(ctx context.Context, refs []models.EmployeeRef) ([]*models.EmployeeProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "employeeprofile.Repository.GetMany")
	defer span.End()

	if len(refs) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	tuples := make([]string, len(refs))
	for n, ref := range refs {
		tuples[n] = fmt.Sprintf("(%s, %s)", sb.Var(ref.CompanyID), sb.Var(ref.EmployeeID))
	}
	sb.Where(fmt.Sprintf("(company_id, employee_id) IN (%s)", strings.Join(tuples, ", ")))

	query, args := sb.Build()
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(refs)}).Error("Failed to get employee profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get employee profiles")
	}

	profiles := make([]*models.EmployeeProfile, len(rows))
	for n := range rows {
		profiles[n] = rows[n].toModel()
	}
	return profiles, nil
}
