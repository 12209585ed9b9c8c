package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/middleware"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/orchestrator"
)

type fakeRunner struct {
	requests []models.RunRequest
	err      error
	runs     map[string]*models.RunSummary
	active   map[string]bool
}

func (f *fakeRunner) Trigger(_ context.Context, req models.RunRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("job-%d", len(f.requests)), nil
}

func (f *fakeRunner) Status(_ context.Context, jobID string) (*models.RunSummary, error) {
	s, ok := f.runs[jobID]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", jobID))
	}
	return s, nil
}

func (f *fakeRunner) Cancel(jobID string) bool {
	return f.active[jobID]
}

func newServer(runner Runner) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	NewHandler(runner, logger).Register(e.Group("/api/v1/runs"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{}
	e := newServer(runner)

	rec := do(e, http.MethodPost, "/api/v1/runs", `{"mode":"full","company_id":"acme"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "running", resp.Status)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, models.RunModeFull, runner.requests[0].Mode)
	assert.Equal(t, "acme", runner.requests[0].CompanyID)

	rec = do(e, http.MethodPost, "/api/v1/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.RunModeIncremental, runner.requests[1].Mode, "mode defaults to incremental")
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "unknown mode", body: `{"mode":"partial"}`, code: http.StatusBadRequest},
		{name: "malformed body", body: `{"mode":`, code: http.StatusBadRequest},
		{name: "scope locked", body: `{"mode":"full"}`, err: orchestrator.ErrRunInProgress, code: http.StatusConflict},
		{name: "invalid configuration", body: `{"mode":"full"}`, err: matcherrors.NewConfigurationError("weights must sum to 1.0"), code: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(&fakeRunner{err: tt.err})
			rec := do(e, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestGetAndCancelRun(t *testing.T) {
	runner := &fakeRunner{
		runs:   map[string]*models.RunSummary{"job-9": {JobID: "job-9", Status: models.RunStatusSucceeded}},
		active: map[string]bool{"job-10": true},
	}
	e := newServer(runner)

	rec := do(e, http.MethodGet, "/api/v1/runs/job-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, models.RunStatusSucceeded, summary.Status)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/runs/missing", "").Code)
	assert.Equal(t, http.StatusAccepted, do(e, http.MethodPost, "/api/v1/runs/job-10/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, "/api/v1/runs/job-9/cancel", "").Code)
}
