package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/aggregate"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/temporal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newEngine(t *testing.T, cfg *models.MatchingConfiguration) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = models.DefaultMatchingConfiguration()
	}
	clock := func() time.Time { return date(2024, 1, 1) }
	engine, err := NewEngine(cfg, nil, temporal.NewAnalyzer(clock))
	require.NoError(t, err)
	return engine
}

// Robert Smith at one company and Bob Smith at another share an SSN and were
// employed concurrently for 120 days.
func robertAndBob() (*models.EmployeeProfile, *models.EmployeeProfile) {
	end := date(2023, 6, 1)
	robert := &models.EmployeeProfile{
		CompanyID:  "acme",
		EmployeeID: "e-100",
		Version:    3,
		Identifiers: models.HashedIdentifierSet{
			SSNHash:         "ssn-1",
			FirstNormalized: "robert",
			LastNormalized:  "smith",
			Absent:          []models.IdentifierKind{models.IdentifierEmail, models.IdentifierPhone},
		},
		StartDate:    date(2023, 1, 1),
		EmployeeType: models.EmployeeTypeFullTime,
	}
	bob := &models.EmployeeProfile{
		CompanyID:  "globex",
		EmployeeID: "g-7",
		Version:    1,
		Identifiers: models.HashedIdentifierSet{
			SSNHash:         "ssn-1",
			EmailHash:       "email-9",
			PhoneHash:       "phone-9",
			FirstNormalized: "bob",
			LastNormalized:  "smith",
		},
		StartDate:    date(2023, 2, 1),
		EndDate:      &end,
		EmployeeType: models.EmployeeTypePartTime,
	}
	return robert, bob
}

func TestNewEngine_InvalidConfiguration(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	cfg.Weights[models.IdentifierSSN] = -1

	_, err := NewEngine(cfg, nil, nil)
	require.Error(t, err)
}

func TestEngine_ScoreReportsEveryKind(t *testing.T) {
	cfg := models.DefaultMatchingConfiguration()
	cfg.EnabledIdentifiers = []models.IdentifierKind{models.IdentifierSSN, models.IdentifierName}
	engine := newEngine(t, cfg)

	robert, bob := robertAndBob()
	factors := engine.Score(&robert.Identifiers, &bob.Identifiers)
	require.Len(t, factors, len(models.AllIdentifiers))

	for _, f := range factors {
		switch f.Identifier {
		case models.IdentifierSSN, models.IdentifierName:
			assert.True(t, f.Present, f.Identifier)
			assert.Equal(t, 1.0, f.Similarity, f.Identifier)
		default:
			assert.False(t, f.Present, f.Identifier)
			assert.Equal(t, []string{models.DetailDisabled}, f.Details)
		}
	}
}

func TestEngine_ScenarioConcurrentEmployment(t *testing.T) {
	engine := newEngine(t, nil)
	robert, bob := robertAndBob()

	ev := engine.Evaluate(robert, bob)

	assert.Equal(t, "acme", ev.First.CompanyID)
	assert.InDelta(t, 1.0, ev.Result.Confidence, 1e-9)
	assert.Equal(t, aggregate.DecisionEmit, ev.Result.Decision)
	assert.Equal(t, 120, ev.Temporal.OverlapDays)
	assert.Equal(t, 21, ev.Temporal.GracePeriodDays)
	assert.Equal(t, models.RiskHigh, ev.Result.Risk)
	assert.Equal(t, models.MatchStatusConfirmed, ev.Result.Status)

	name, ok := ev.Factor(models.IdentifierName)
	require.True(t, ok)
	assert.Contains(t, name.Details, models.DetailNickname)

	email, ok := ev.Factor(models.IdentifierEmail)
	require.True(t, ok)
	assert.False(t, email.Present)
	assert.Zero(t, email.Contribution)

	match := ev.ToMatch(engine.ConfigVersion(), date(2024, 1, 1))
	assert.Equal(t, robert.Ref(), match.Employee1)
	assert.Equal(t, bob.Ref(), match.Employee2)
	assert.Equal(t, int64(3), match.Employee1Version)
	assert.Equal(t, int64(1), match.Employee2Version)
	assert.True(t, match.TemporalOverlap)
	assert.Equal(t, 99, match.AdjustedOverlapDays)
	assert.Equal(t, engine.ConfigVersion(), match.ConfigVersion)
}

func TestEngine_EvaluateIsSymmetric(t *testing.T) {
	engine := newEngine(t, nil)
	robert, bob := robertAndBob()
	bob.Identifiers.SSNHash = "ssn-2"
	bob.Identifiers.FirstNormalized = "roberta"

	forward := engine.Evaluate(robert, bob)
	backward := engine.Evaluate(bob, robert)

	assert.Equal(t, forward.First.Ref(), backward.First.Ref())
	assert.Equal(t, forward.Result, backward.Result)
	assert.Equal(t, forward.Temporal, backward.Temporal)
}

func TestEngine_SameNameConflictingIdentifiers(t *testing.T) {
	engine := newEngine(t, nil)

	john1 := &models.EmployeeProfile{
		CompanyID: "acme", EmployeeID: "1",
		Identifiers: models.HashedIdentifierSet{
			SSNHash: "a", EmailHash: "a", PhoneHash: "a",
			FirstNormalized: "john", LastNormalized: "smith",
		},
		StartDate: date(2020, 1, 1), EmployeeType: models.EmployeeTypeFullTime,
	}
	john2 := &models.EmployeeProfile{
		CompanyID: "globex", EmployeeID: "2",
		Identifiers: models.HashedIdentifierSet{
			SSNHash: "b", EmailHash: "b", PhoneHash: "b",
			FirstNormalized: "john", LastNormalized: "smith",
		},
		StartDate: date(2020, 1, 1), EmployeeType: models.EmployeeTypeFullTime,
	}

	ev := engine.Evaluate(john1, john2)
	assert.Less(t, ev.Result.Confidence, 0.5)
	assert.Equal(t, aggregate.DecisionBelowMinimum, ev.Result.Decision)
}

func TestEngine_NameOnlyWithoutOverlap(t *testing.T) {
	engine := newEngine(t, nil)

	leftAcme := date(2019, 12, 31)
	john1 := &models.EmployeeProfile{
		CompanyID: "acme", EmployeeID: "1",
		Identifiers: models.HashedIdentifierSet{
			FirstNormalized: "john", LastNormalized: "smith",
			Absent: []models.IdentifierKind{models.IdentifierSSN, models.IdentifierEmail, models.IdentifierPhone},
		},
		StartDate: date(2015, 1, 1), EndDate: &leftAcme, EmployeeType: models.EmployeeTypeFullTime,
	}
	john2 := &models.EmployeeProfile{
		CompanyID: "globex", EmployeeID: "2",
		Identifiers: models.HashedIdentifierSet{
			FirstNormalized: "john", LastNormalized: "smith",
			Absent: []models.IdentifierKind{models.IdentifierSSN, models.IdentifierEmail, models.IdentifierPhone},
		},
		StartDate: date(2021, 6, 1), EmployeeType: models.EmployeeTypeFullTime,
	}

	ev := engine.Evaluate(john1, john2)
	assert.False(t, ev.Temporal.TemporalOverlap())
	assert.Equal(t, models.RiskInformational, ev.Result.Risk)

	present := 0
	for _, f := range ev.Result.Factors {
		if f.Present {
			present++
			assert.Equal(t, models.IdentifierName, f.Identifier)
		}
	}
	assert.Equal(t, 1, present, "only the name is comparable")
}

func TestNewEngine_ConfiguredNicknamesAddedOnce(t *testing.T) {
	base, err := DefaultNicknames()
	require.NoError(t, err)

	cfg := models.DefaultMatchingConfiguration()
	cfg.Names.Nicknames = map[string][]string{"reginald": {"reggie", "rex"}}
	engine := newEngine(t, cfg)

	scorer, ok := engine.Scorers().Get(models.IdentifierName)
	require.True(t, ok)
	names, ok := scorer.(*NameScorer)
	require.True(t, ok)

	table := names.comparator.Nicknames()
	assert.Len(t, table.groups, len(base.groups)+1)
	assert.Len(t, table.byName["reggie"], 1)
	assert.True(t, table.Equivalent("reginald", "rex"))
}
