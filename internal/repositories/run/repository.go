package run

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const table = "match_runs"

type runRow struct {
	JobID      string                             `db:"job_id"`
	Mode       string                             `db:"mode"`
	Scope      string                             `db:"scope"`
	Status     string                             `db:"status"`
	StartedAt  time.Time                          `db:"started_at"`
	FinishedAt *time.Time                         `db:"finished_at"`
	Summary    database.JSONB[*models.RunSummary] `db:"summary"`
	Error      *string                            `db:"error"`
}

func (r *runRow) toModel() *models.RunSummary {
	summary := r.Summary.Data
	if summary == nil {
		summary = &models.RunSummary{Suppressed: map[string]int{}}
	}
	summary.JobID = r.JobID
	summary.Mode = models.RunMode(r.Mode)
	summary.Scope = r.Scope
	summary.Status = models.RunStatus(r.Status)
	summary.StartedAt = r.StartedAt
	summary.FinishedAt = r.FinishedAt
	if r.Error != nil {
		summary.Error = *r.Error
	}
	return summary
}

// Repository records matching runs and their summaries
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save inserts or replaces the row for summary.JobID
func (r *Repository) Save(ctx context.Context, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Save")
	defer span.End()

	snap := summary.Snapshot()
	var runErr *string
	if snap.Error != "" {
		runErr = &snap.Error
	}

	sb := database.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("job_id", "mode", "scope", "status", "started_at", "finished_at", "summary", "error")
	sb.Values(snap.JobID, string(snap.Mode), snap.Scope, string(snap.Status), snap.StartedAt, snap.FinishedAt, database.NewJSONB(snap), runErr)

	query, args := sb.Build()
	query += database.OnConflictUpdate([]string{"job_id"}, []string{"status", "finished_at", "summary", "error"})

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": snap.JobID}).Error("Failed to save run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save run")
	}

	return nil
}

// Get retrieves a run by job id
func (r *Repository) Get(ctx context.Context, jobID string) (*models.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("job_id", "mode", "scope", "status", "started_at", "finished_at", "summary", "error")
	sb.From(table)
	sb.Where(sb.Equal("job_id", jobID))

	query, args := sb.Build()
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", jobID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}

	return row.toModel(), nil
}

// LastSuccessful returns the most recent succeeded run for scope, or nil
func (r *Repository) LastSuccessful(ctx context.Context, scope string) (*models.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.LastSuccessful")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("job_id", "mode", "scope", "status", "started_at", "finished_at", "summary", "error")
	sb.From(table)
	sb.Where(
		sb.Equal("scope", scope),
		sb.Equal("status", string(models.RunStatusSucceeded)),
	)
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope}).Error("Failed to get last successful run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get last successful run")
	}

	return row.toModel(), nil
}
