package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	"github.com/Ramsey-B/sorrel/pkg/candidateindex"
	"github.com/Ramsey-B/sorrel/pkg/connectors"
	"github.com/Ramsey-B/sorrel/pkg/identifiers"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

type harness struct {
	service  *Service
	profiles *employeeprofile.MemoryRepository
	index    *candidateindex.Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	hasher, err := identifiers.NewHasher(&identifiers.Salts{Global: []byte("global-salt"), CompanyMaster: []byte("company-salt"), Version: 1})
	require.NoError(t, err)
	nicknames, err := matching.DefaultNicknames()
	require.NoError(t, err)

	h := &harness{
		profiles: employeeprofile.NewMemoryRepository(),
		index:    candidateindex.NewIndex(logger, nicknames, 1),
	}
	provider := matchconfig.NewProvider(models.DefaultMatchingConfiguration(), nil, logger)
	h.service = NewService(hasher, provider, h.profiles, h.index, logger)
	return h
}

func employee() *models.Employee {
	return &models.Employee{
		EmployeeID:   "100",
		CompanyID:    "acme",
		FirstName:    "Robert",
		LastName:     "Smith",
		SSN:          "123-45-6789",
		Email:        "Bob.Smith@Example.com",
		StartDate:    time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		EmployeeType: models.EmployeeTypeFullTime,
	}
}

func TestIngest_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.service.Ingest(ctx, employee())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Equal(t, int64(1), result.Profile.Version)
	assert.NotEmpty(t, result.Profile.Identifiers.SSNHash)
	assert.NotContains(t, result.Profile.Identifiers.SSNHash, "6789")
	assert.Equal(t, 1, h.index.Size())

	result, err = h.service.Ingest(ctx, employee())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, result.Outcome, "identical content keeps the version")
	assert.Equal(t, int64(1), result.Profile.Version)

	changed := employee()
	changed.Email = "robert@example.org"
	result, err = h.service.Ingest(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, result.Outcome)
	assert.Equal(t, int64(2), result.Profile.Version)

	stored, err := h.profiles.Get(ctx, models.EmployeeRef{CompanyID: "acme", EmployeeID: "100"})
	require.NoError(t, err)
	assert.Equal(t, result.Profile.Identifiers.EmailHash, stored.Identifiers.EmailHash)

	stale := employee()
	stale.Version = 1
	result, err = h.service.Ingest(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, result.Outcome)
	assert.Equal(t, int64(2), result.Profile.Version)
}

func TestIngest_SourceVersionWins(t *testing.T) {
	h := newHarness(t)
	emp := employee()
	emp.Version = 40

	result, err := h.service.Ingest(context.Background(), emp)
	require.NoError(t, err)
	assert.Equal(t, int64(40), result.Profile.Version)
}

func TestIngest_InvalidRecord(t *testing.T) {
	h := newHarness(t)
	emp := employee()
	emp.CompanyID = ""

	result, err := h.service.Ingest(context.Background(), emp)
	require.Error(t, err)
	assert.Equal(t, OutcomeInvalid, result.Outcome)
	assert.Zero(t, h.index.Size())
}

func TestIngest_MalformedIdentifierIsAbsent(t *testing.T) {
	h := newHarness(t)
	emp := employee()
	emp.SSN = "123"

	result, err := h.service.Ingest(context.Background(), emp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Equal(t, 1, result.NormalizationErrors)
	assert.Empty(t, result.Profile.Identifiers.SSNHash)
	assert.Contains(t, result.Profile.Identifiers.Absent, models.IdentifierSSN)
}

func TestRemove_KeepsProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.service.Ingest(ctx, employee())
	require.NoError(t, err)

	ref := models.EmployeeRef{CompanyID: "acme", EmployeeID: "100"}
	h.service.Remove(ctx, ref)
	assert.Zero(t, h.index.Size())

	stored, err := h.profiles.Get(ctx, ref)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestHandleMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	upsert := &kafka.IncomingMessage{Value: []byte(`{"employee_id":"7","company_id":"globex","last_name":"Lee","start_date":"2023-01-01T00:00:00Z","employee_type":"contract"}`)}
	require.NoError(t, h.service.HandleMessage(ctx, upsert))
	assert.Equal(t, 1, h.index.Size())

	invalid := &kafka.IncomingMessage{Value: []byte(`{"employee_id":"8","company_id":"globex","start_date":"2023-01-01T00:00:00Z","employee_type":"contract"}`)}
	assert.NoError(t, h.service.HandleMessage(ctx, invalid), "records without a name are acknowledged and dropped")
	assert.Equal(t, 1, h.index.Size())

	remove := &kafka.IncomingMessage{Value: []byte(`{"event_type":"employee.removed","ref":{"company_id":"globex","employee_id":"7"}}`)}
	require.NoError(t, h.service.HandleMessage(ctx, remove))
	assert.Zero(t, h.index.Size())
}

func TestImport(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"employee_id":"1","company_id":"acme","first_name":"Ann","last_name":"Lee","ssn":"111-22-3333","start_date":"2022-01-01T00:00:00Z","employee_type":"full_time"},
		{"employee_id":"2","company_id":"acme","start_date":"2022-01-01T00:00:00Z","employee_type":"full_time"},
		{"employee_id":"3","company_id":"acme","first_name":"Bo","start_date":"2022-01-01T00:00:00Z","employee_type":"intern"}
	]`), 0o600))

	stats, err := h.service.Import(context.Background(), connectors.NewJSONFileProvider("file", path), "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeCreated])
	assert.Equal(t, 1, stats[OutcomeInvalid])
	assert.Equal(t, 2, h.index.Size())

	stats, err = h.service.Import(context.Background(), connectors.NewJSONFileProvider("file", path), "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[OutcomeUnchanged])
}
