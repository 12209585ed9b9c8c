package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	matchrepo "github.com/Ramsey-B/sorrel/internal/repositories/match"
	"github.com/Ramsey-B/sorrel/internal/repositories/matchingconfig"
	runrepo "github.com/Ramsey-B/sorrel/internal/repositories/run"
	"github.com/Ramsey-B/sorrel/pkg/anomaly"
	"github.com/Ramsey-B/sorrel/pkg/candidateindex"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/orchestrator"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
	"github.com/Ramsey-B/sorrel/pkg/routes/matches"
	"github.com/Ramsey-B/sorrel/pkg/routes/runs"
)

func newServer(t *testing.T) (*echo.Echo, *events.Recorder) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	nicknames, err := matching.DefaultNicknames()
	require.NoError(t, err)

	profiles := employeeprofile.NewMemoryRepository()
	index := candidateindex.NewIndex(logger, nicknames, 1)
	hired := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, ref := range []models.EmployeeRef{{CompanyID: "acme", EmployeeID: "1"}, {CompanyID: "globex", EmployeeID: "2"}} {
		p := &models.EmployeeProfile{
			CompanyID:  ref.CompanyID,
			EmployeeID: ref.EmployeeID,
			Version:    1,
			Identifiers: models.HashedIdentifierSet{
				SSNHash: "ssn-1", SSNLocalHash: "local-" + ref.CompanyID, EmailHash: "email-1",
				FirstNormalized: "john", LastNormalized: "smith", SaltVersion: 1,
			},
			StartDate:    hired,
			EmployeeType: models.EmployeeTypeFullTime,
			UpdatedAt:    hired,
		}
		_, err := profiles.Upsert(context.Background(), p)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(p))
	}

	configs := matchconfig.NewProvider(models.DefaultMatchingConfiguration(), matchingconfig.NewMemoryRepository(), logger)
	matchStore := matchrepo.NewMemoryRepository()
	recorder := events.NewRecorder()

	o := orchestrator.New(orchestrator.Dependencies{
		Profiles:   profiles,
		Matches:    matchStore,
		Runs:       runrepo.NewMemoryRepository(),
		Configs:    configs,
		Candidates: index,
		Filter:     anomaly.NewFilter(index, logger),
		Listener:   recorder,
	}, orchestrator.Options{RetryInterval: time.Millisecond}, logger)

	checker := health.NewChecker("test")
	checker.SetReady(true)

	return New(Dependencies{
		Runner:   o,
		Configs:  configs,
		Matches:  matchStore,
		Listener: recorder,
		Health:   checker,
	}, logger), recorder
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRunReviewFlow(t *testing.T) {
	e, recorder := newServer(t)

	rec := do(e, http.MethodPost, "/api/v1/runs", `{"mode":"full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted runs.TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	require.Eventually(t, func() bool {
		rec := do(e, http.MethodGet, "/api/v1/runs/"+accepted.JobID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		var summary models.RunSummary
		return json.Unmarshal(rec.Body.Bytes(), &summary) == nil && summary.Status == models.RunStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(e, http.MethodGet, "/api/v1/matches?company_id=acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed matches.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	match := listed.Matches[0]
	assert.Equal(t, models.MatchStatusPending, match.Status)
	assert.NotEmpty(t, match.MatchFactors)

	rec = do(e, http.MethodPost, "/api/v1/matches/"+match.ID+"/review", `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, recorder.Count(events.EventTypeMatchCreated))
	assert.Equal(t, 1, recorder.Count(events.EventTypeMatchUpdated))
}

func TestOperationalEndpoints(t *testing.T) {
	e, _ := newServer(t)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/config", "").Code)

	rec := do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
