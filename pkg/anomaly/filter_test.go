package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/temporal"
)

type fakeStats struct {
	companies map[string]int
	local     map[string]int
}

func (f *fakeStats) BucketStats(kind models.IdentifierKind, hash string) (int, int) {
	c := f.companies[string(kind)+":"+hash]
	return c, c
}

func (f *fakeStats) LocalCount(companyID, localHash string) int {
	return f.local[companyID+":"+localHash]
}

func newFilter(stats BucketStats) *Filter {
	return NewFilter(stats, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func evaluate(t *testing.T, cfg *models.MatchingConfiguration, a, b models.HashedIdentifierSet) *matching.Evaluation {
	t.Helper()
	engine, err := matching.NewEngine(cfg, nil, temporal.NewAnalyzer(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	pa := &models.EmployeeProfile{CompanyID: "acme", EmployeeID: "1", Identifiers: a, StartDate: start, EmployeeType: models.EmployeeTypeFullTime}
	pb := &models.EmployeeProfile{CompanyID: "globex", EmployeeID: "2", Identifiers: b, StartDate: start, EmployeeType: models.EmployeeTypeFullTime}
	return engine.Evaluate(pa, pb)
}

func TestFilter_GenericIdentifier(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	set := models.HashedIdentifierSet{EmailHash: "hr-inbox", FirstNormalized: "pat", LastNormalized: "doe"}
	other := models.HashedIdentifierSet{EmailHash: "hr-inbox", FirstNormalized: "pat", LastNormalized: "doe"}
	ev := evaluate(t, cfg, set, other)

	stats := &fakeStats{companies: map[string]int{"email:hr-inbox": 30}}
	verdict := newFilter(stats).Check(context.Background(), ev, cfg)
	assert.True(t, verdict.Suppressed)
	assert.Equal(t, ReasonGenericIdentifier, verdict.Reason)
	assert.Contains(t, verdict.Detail, "30 companies")

	stats.companies["email:hr-inbox"] = 25
	verdict = newFilter(stats).Check(context.Background(), ev, cfg)
	assert.False(t, verdict.Suppressed, "exactly at the limit is allowed")
}

func TestFilter_PlaceholderSSN(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	a := models.HashedIdentifierSet{SSNHash: "zeros", SSNLocalHash: "acme-zeros", EmailHash: "e", FirstNormalized: "pat", LastNormalized: "doe"}
	b := models.HashedIdentifierSet{SSNHash: "zeros", SSNLocalHash: "globex-zeros", EmailHash: "e", FirstNormalized: "pat", LastNormalized: "doe"}
	ev := evaluate(t, cfg, a, b)

	stats := &fakeStats{local: map[string]int{"acme:acme-zeros": 3}}
	verdict := newFilter(stats).Check(context.Background(), ev, cfg)
	assert.True(t, verdict.Suppressed)
	assert.Equal(t, ReasonGenericIdentifier, verdict.Reason)

	stats.local["acme:acme-zeros"] = 2
	verdict = newFilter(stats).Check(context.Background(), ev, cfg)
	assert.False(t, verdict.Suppressed)
}

func TestFilter_SingleSignal(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()

	// only the name is comparable, so a perfect name scores 1.0 on one signal
	a := models.HashedIdentifierSet{FirstNormalized: "john", LastNormalized: "smith"}
	b := models.HashedIdentifierSet{FirstNormalized: "john", LastNormalized: "smith"}
	ev := evaluate(t, cfg, a, b)
	require.Equal(t, 1.0, ev.Result.Confidence)

	verdict := newFilter(&fakeStats{}).Check(context.Background(), ev, cfg)
	assert.True(t, verdict.Suppressed)
	assert.Equal(t, ReasonSingleSignal, verdict.Reason)

	// two agreeing signals pass
	a.SSNHash, b.SSNHash = "s", "s"
	ev = evaluate(t, cfg, a, b)
	verdict = newFilter(&fakeStats{}).Check(context.Background(), ev, cfg)
	assert.False(t, verdict.Suppressed)
}

func TestFilter_NameConflict(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	cfg.Weights[models.IdentifierName] = 0.9
	cfg.Weights[models.IdentifierEmail] = 0.1

	a := models.HashedIdentifierSet{EmailHash: "a", FirstNormalized: "maria", LastNormalized: "garcia"}
	b := models.HashedIdentifierSet{EmailHash: "b", FirstNormalized: "maria", LastNormalized: "garcia"}
	ev := evaluate(t, cfg, a, b)

	verdict := newFilter(&fakeStats{}).Check(context.Background(), ev, cfg)
	assert.True(t, verdict.Suppressed)
	assert.Equal(t, ReasonNameConflict, verdict.Reason)
}

func TestFilter_ConcurrentEmploymentPasses(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	a := models.HashedIdentifierSet{SSNHash: "s", SSNLocalHash: "l1", FirstNormalized: "robert", LastNormalized: "smith"}
	b := models.HashedIdentifierSet{SSNHash: "s", SSNLocalHash: "l2", FirstNormalized: "bob", LastNormalized: "smith"}
	ev := evaluate(t, cfg, a, b)

	stats := &fakeStats{
		companies: map[string]int{"ssn:s": 2},
		local:     map[string]int{"acme:l1": 1, "globex:l2": 1},
	}
	verdict := newFilter(stats).Check(context.Background(), ev, cfg)
	assert.False(t, verdict.Suppressed)
}

func TestFilter_SingleSignalBelowAutoConfirm(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	a := models.HashedIdentifierSet{FirstNormalized: "mark", LastNormalized: "smith"}
	b := models.HashedIdentifierSet{FirstNormalized: "mary", LastNormalized: "smith"}
	ev := evaluate(t, cfg, a, b)
	require.Less(t, ev.Result.Confidence, cfg.Thresholds.AutoConfirm)
	require.GreaterOrEqual(t, ev.Result.Confidence, cfg.Thresholds.Minimum)

	verdict := newFilter(&fakeStats{}).Check(context.Background(), ev, cfg)
	assert.True(t, verdict.Suppressed)
	assert.Equal(t, ReasonSingleSignal, verdict.Reason)

	cfg.Anomaly.SingleSignalConfidence = cfg.Thresholds.AutoConfirm
	verdict = newFilter(&fakeStats{}).Check(context.Background(), ev, cfg)
	assert.False(t, verdict.Suppressed, "a raised floor lets lower confidence through")
}
