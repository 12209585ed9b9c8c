package match

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlx.NewDb(raw, "postgres"), logger)
	return NewRepository(db, logger), mock
}

var (
	acme   = models.EmployeeRef{CompanyID: "acme", EmployeeID: "e-100"}
	globex = models.EmployeeRef{CompanyID: "globex", EmployeeID: "g-7"}
	now    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newMatch() *models.Match {
	return &models.Match{
		Employee1:        acme,
		Employee2:        globex,
		Employee1Version: 3,
		Employee2Version: 1,
		ConfidenceScore:  0.97,
		MatchFactors:     []models.MatchFactor{{Identifier: models.IdentifierSSN, Present: true, Similarity: 1, Weight: 0.45, Contribution: 0.45}},
		TemporalOverlap:  true,
		OverlapDays:      120,
		RiskLevel:        models.RiskHigh,
		Status:           models.MatchStatusConfirmed,
		ConfigVersion:    "cfg",
	}
}

func matchRows() *sqlmock.Rows {
	return sqlmock.NewRows(columns).AddRow(
		"m-1",
		"acme", "e-100", "acme/e-100", int64(3),
		"globex", "g-7", "globex/g-7", int64(1),
		0.97, []byte(`[{"identifier":"ssn","present":true,"similarity":1,"weight":0.45,"contribution":0.45}]`), true, 120, 99, false,
		"high", "confirmed", false, "cfg", now, now,
	)
}

func TestRepository_GetByPairIsCanonical(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE employee1_key = $1 AND employee2_key = $2")).
		WithArgs("acme/e-100", "globex/g-7").
		WillReturnRows(matchRows())

	m, err := repo.GetByPair(context.Background(), globex, acme)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, acme, m.Employee1)
	assert.Equal(t, globex, m.Employee2)
	assert.Equal(t, 99, m.AdjustedOverlapDays)
	require.Len(t, m.MatchFactors, 1)
	assert.Equal(t, models.IdentifierSSN, m.MatchFactors[0].Identifier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByPairMissing(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM matches").WillReturnRows(sqlmock.NewRows(columns))

	m, err := repo.GetByPair(context.Background(), acme, globex)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRepository_GetNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM matches").WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRepository_Insert(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO matches (id, employee1_company_id")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := newMatch()
	require.NoError(t, repo.Insert(context.Background(), m))
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InsertConflict(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "unique violation", err: &pq.Error{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, conflict: true},
		{name: "other failure", err: errors.New("disk full"), conflict: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			mock.ExpectExec("INSERT INTO matches").WillReturnError(tt.err)

			err := repo.Insert(context.Background(), newMatch())
			require.Error(t, err)
			assert.Equal(t, tt.conflict, matcherrors.IsPersistenceConflict(err))
		})
	}
}

func TestRepository_Update(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE matches SET employee1_version = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "reviewed"}).AddRow("confirmed", false))
	mock.ExpectQuery("UPDATE matches").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reviewed"}))

	m := newMatch()
	m.ID = "m-1"
	require.NoError(t, repo.Update(context.Background(), m))
	assert.Equal(t, models.MatchStatusConfirmed, m.Status)

	err := repo.Update(context.Background(), m)
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateKeepsReviewedDecision(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("status = CASE WHEN reviewed THEN status ELSE $10 END, reviewed = reviewed OR $11")).
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "high", "confirmed", false,
			"cfg", sqlmock.AnyArg(), "m-1",
		).
		WillReturnRows(sqlmock.NewRows([]string{"status", "reviewed"}).AddRow("rejected", true))

	m := newMatch()
	m.ID = "m-1"
	require.NoError(t, repo.Update(context.Background(), m))
	assert.Equal(t, models.MatchStatusRejected, m.Status, "a review that landed first wins")
	assert.True(t, m.Reviewed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRepository_UpdateKeepsReviewedDecision(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	m := newMatch()
	require.NoError(t, repo.Insert(ctx, m))
	stale, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)

	_, err = repo.Review(ctx, m.ID, models.MatchStatusRejected)
	require.NoError(t, err)

	stale.ConfidenceScore = 0.8
	require.NoError(t, repo.Update(ctx, stale))
	assert.Equal(t, models.MatchStatusRejected, stale.Status)

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusRejected, got.Status)
	assert.True(t, got.Reviewed)
	assert.Equal(t, 0.8, got.ConfidenceScore)
}

func TestRepository_List(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (employee1_company_id = $1 OR employee2_company_id = $2) AND status = $3 AND risk_level IN ($4, $5)")).
		WillReturnRows(matchRows())

	out, err := repo.List(context.Background(), models.MatchFilter{CompanyID: "acme", Status: models.MatchStatusConfirmed, MinRisk: models.RiskHigh})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	m := newMatch()
	require.NoError(t, repo.Insert(ctx, m))

	dup := newMatch()
	err := repo.Insert(ctx, dup)
	assert.True(t, matcherrors.IsPersistenceConflict(err))

	got, err := repo.GetByPair(ctx, globex, acme)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)

	reviewed, err := repo.Review(ctx, m.ID, models.MatchStatusRejected)
	require.NoError(t, err)
	assert.True(t, reviewed.Reviewed)

	list, err := repo.List(ctx, models.MatchFilter{CompanyID: "globex", EmployeeID: "g-7"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = repo.List(ctx, models.MatchFilter{MinRisk: models.RiskCritical})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.Get(ctx, "missing")
	assert.Error(t, err)
	assert.Equal(t, 1, repo.Len())
}
