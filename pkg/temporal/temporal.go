// Package temporal computes employment-interval overlap and the risk it implies
package temporal

import (
	"math"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

const day = 24 * time.Hour

// Employment is one side of a temporal comparison. A nil End means ongoing.
type Employment struct {
	Start time.Time
	End   *time.Time
	Type  models.EmployeeType
}

// FromProfile extracts the employment interval of a profile
func FromProfile(p *models.EmployeeProfile) Employment {
	return Employment{Start: p.StartDate, End: p.EndDate, Type: p.EmployeeType}
}

// Result is the outcome of analyzing two employments
type Result struct {
	OverlapDays         int              `json:"overlap_days"`
	GracePeriodDays     int              `json:"grace_period_days"`
	AdjustedOverlapDays int              `json:"adjusted_overlap_days"`
	WithinGracePeriod   bool             `json:"within_grace_period"`
	BothFullTime        bool             `json:"both_full_time"`
	Risk                models.RiskLevel `json:"risk"`
}

// TemporalOverlap reports whether the intervals intersect at all
func (r Result) TemporalOverlap() bool {
	return r.OverlapDays > 0
}

// Analyzer computes overlaps relative to an injected clock
type Analyzer struct {
	now func() time.Time
}

// NewAnalyzer creates an Analyzer. A nil clock uses time.Now.
func NewAnalyzer(now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{now: now}
}

// OverlapDays returns max(0, ceil((min(end1, end2) - max(start1, start2)) / 1 day))
// where an open end is treated as now
func (a *Analyzer) OverlapDays(e1, e2 Employment) int {
	now := a.now().UTC()
	end1 := now
	if e1.End != nil {
		end1 = e1.End.UTC()
	}
	end2 := now
	if e2.End != nil {
		end2 = e2.End.UTC()
	}

	start := e1.Start.UTC()
	if e2.Start.After(start) {
		start = e2.Start.UTC()
	}
	end := end1
	if end2.Before(end) {
		end = end2
	}

	if !end.After(start) {
		return 0
	}
	return int(math.Ceil(float64(end.Sub(start)) / float64(day)))
}

// Analyze classifies the overlap. Grace comes from the more permissive of the
// two employee types; overlap at or below grace carries no risk.
func (a *Analyzer) Analyze(e1, e2 Employment, grace map[models.EmployeeType]int) Result {
	result := Result{
		OverlapDays:     a.OverlapDays(e1, e2),
		GracePeriodDays: max(grace[e1.Type], grace[e2.Type]),
		BothFullTime:    e1.Type == models.EmployeeTypeFullTime && e2.Type == models.EmployeeTypeFullTime,
	}

	if result.OverlapDays <= result.GracePeriodDays {
		result.WithinGracePeriod = true
		result.Risk = models.RiskInformational
		return result
	}

	result.AdjustedOverlapDays = result.OverlapDays - result.GracePeriodDays
	result.Risk = ClassifyAdjusted(result.AdjustedOverlapDays, result.BothFullTime)
	return result
}

// ClassifyAdjusted maps grace-adjusted overlap days to a risk tier
func ClassifyAdjusted(adjusted int, bothFullTime bool) models.RiskLevel {
	switch {
	case adjusted <= 0:
		return models.RiskInformational
	case adjusted <= 30:
		return models.RiskLow
	case adjusted <= 90:
		return models.RiskMedium
	case bothFullTime:
		return models.RiskCritical
	default:
		return models.RiskHigh
	}
}
