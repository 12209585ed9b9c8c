package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAnalyzer_OverlapDays(t *testing.T) {
	a := NewAnalyzer(fixedClock(date(2024, 1, 1)))

	tests := []struct {
		name string
		e1   Employment
		e2   Employment
		want int
	}{
		{
			name: "contained interval",
			e1:   Employment{Start: date(2023, 1, 1)},
			e2:   Employment{Start: date(2023, 2, 1), End: ptr(date(2023, 6, 1))},
			want: 120,
		},
		{
			name: "disjoint",
			e1:   Employment{Start: date(2020, 1, 1), End: ptr(date(2020, 6, 1))},
			e2:   Employment{Start: date(2021, 1, 1), End: ptr(date(2021, 6, 1))},
			want: 0,
		},
		{
			name: "touching ends",
			e1:   Employment{Start: date(2020, 1, 1), End: ptr(date(2020, 6, 1))},
			e2:   Employment{Start: date(2020, 6, 1), End: ptr(date(2020, 9, 1))},
			want: 0,
		},
		{
			name: "both ongoing",
			e1:   Employment{Start: date(2023, 12, 1)},
			e2:   Employment{Start: date(2023, 12, 22)},
			want: 10,
		},
		{
			name: "partial day rounds up",
			e1:   Employment{Start: date(2023, 3, 1), End: ptr(date(2023, 3, 2).Add(6 * time.Hour))},
			e2:   Employment{Start: date(2023, 3, 1)},
			want: 2,
		},
		{
			name: "start in the future",
			e1:   Employment{Start: date(2024, 6, 1)},
			e2:   Employment{Start: date(2023, 1, 1)},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.OverlapDays(tt.e1, tt.e2))
			assert.Equal(t, tt.want, a.OverlapDays(tt.e2, tt.e1), "overlap must be symmetric")
		})
	}
}

func TestAnalyzer_GraceBoundary(t *testing.T) {
	grace := models.DefaultMatchingConfiguration().GracePeriodDays
	a := NewAnalyzer(fixedClock(date(2024, 1, 1)))

	start := date(2023, 5, 1)
	atGrace := Employment{Start: start, End: ptr(start.AddDate(0, 0, 14)), Type: models.EmployeeTypeFullTime}
	other := Employment{Start: date(2020, 1, 1), Type: models.EmployeeTypeFullTime}

	result := a.Analyze(atGrace, other, grace)
	assert.Equal(t, 14, result.OverlapDays)
	assert.True(t, result.WithinGracePeriod)
	assert.Equal(t, models.RiskInformational, result.Risk)
	assert.Equal(t, 0, result.AdjustedOverlapDays)

	pastGrace := Employment{Start: start, End: ptr(start.AddDate(0, 0, 15)), Type: models.EmployeeTypeFullTime}
	result = a.Analyze(pastGrace, other, grace)
	assert.Equal(t, 15, result.OverlapDays)
	assert.False(t, result.WithinGracePeriod)
	assert.Equal(t, 1, result.AdjustedOverlapDays)
	assert.True(t, result.Risk.AtLeast(models.RiskLow))
}

func TestAnalyzer_MorePermissiveGraceWins(t *testing.T) {
	grace := models.DefaultMatchingConfiguration().GracePeriodDays
	a := NewAnalyzer(fixedClock(date(2024, 1, 1)))

	start := date(2023, 5, 1)
	contract := Employment{Start: start, End: ptr(start.AddDate(0, 0, 25)), Type: models.EmployeeTypeContract}
	intern := Employment{Start: date(2023, 1, 1), Type: models.EmployeeTypeIntern}

	result := a.Analyze(contract, intern, grace)
	assert.Equal(t, 30, result.GracePeriodDays)
	assert.True(t, result.WithinGracePeriod)
}

func TestAnalyzer_ScenarioHighRisk(t *testing.T) {
	grace := models.DefaultMatchingConfiguration().GracePeriodDays
	a := NewAnalyzer(fixedClock(date(2024, 1, 1)))

	robert := Employment{Start: date(2023, 1, 1), Type: models.EmployeeTypeFullTime}
	bob := Employment{Start: date(2023, 2, 1), End: ptr(date(2023, 6, 1)), Type: models.EmployeeTypePartTime}

	result := a.Analyze(robert, bob, grace)
	assert.Equal(t, 120, result.OverlapDays)
	assert.Equal(t, 21, result.GracePeriodDays)
	assert.Equal(t, 99, result.AdjustedOverlapDays)
	assert.Equal(t, models.RiskHigh, result.Risk)
	assert.True(t, result.TemporalOverlap())
}

func TestClassifyAdjusted(t *testing.T) {
	tests := []struct {
		adjusted     int
		bothFullTime bool
		want         models.RiskLevel
	}{
		{0, false, models.RiskInformational},
		{1, false, models.RiskLow},
		{30, true, models.RiskLow},
		{31, false, models.RiskMedium},
		{90, true, models.RiskMedium},
		{91, false, models.RiskHigh},
		{91, true, models.RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAdjusted(tt.adjusted, tt.bothFullTime), "adjusted=%d fullTime=%v", tt.adjusted, tt.bothFullTime)
	}
}
