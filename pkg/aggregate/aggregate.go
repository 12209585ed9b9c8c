// Package aggregate fuses per-identifier similarities into a confidence score and
// combines it with temporal overlap into a risk tier
package aggregate

import (
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/temporal"
)

// Decision is what should happen to a scored pair
type Decision string

const (
	DecisionEmit         Decision = "emit"
	DecisionBelowMinimum Decision = "below_minimum"
)

// Result is the fused outcome for one pair
type Result struct {
	Confidence       float64              `json:"confidence"`
	ComparableWeight float64              `json:"comparable_weight"`
	Risk             models.RiskLevel     `json:"risk"`
	Status           models.MatchStatus   `json:"status"`
	Decision         Decision             `json:"decision"`
	Factors          []models.MatchFactor `json:"factors"`
}

// Confidence computes Σ(w·s) / Σ(w) over identifiers present in both records.
// Identifiers missing on either side drop out of both sums, so incomplete
// source data does not cap the score. The returned factors carry weights and
// contributions; the input slice is not modified.
func Confidence(factors []models.MatchFactor, weights map[models.IdentifierKind]float64) (float64, float64, []models.MatchFactor) {
	out := make([]models.MatchFactor, len(factors))
	copy(out, factors)

	var weightSum, weighted float64
	for i := range out {
		out[i].Weight = weights[out[i].Identifier]
		out[i].Contribution = 0
		if !out[i].Present || out[i].Weight <= 0 {
			continue
		}
		weightSum += out[i].Weight
		weighted += out[i].Weight * out[i].Similarity
	}

	if weightSum == 0 {
		return 0, 0, out
	}

	for i := range out {
		if out[i].Present && out[i].Weight > 0 {
			out[i].Contribution = out[i].Weight * out[i].Similarity / weightSum
		}
	}

	confidence := weighted / weightSum
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, weightSum, out
}

// Risk derives the tier from temporal overlap. Identity confidence never raises
// risk on its own; it only holds critical back to high when the identity is not
// confident enough to auto-confirm.
func Risk(t temporal.Result, confidence float64, thresholds models.Thresholds) models.RiskLevel {
	risk := t.Risk
	if risk == "" {
		risk = models.RiskInformational
	}
	if risk == models.RiskCritical && confidence < thresholds.AutoConfirm {
		return models.RiskHigh
	}
	return risk
}

// InitialStatus is the status a new match starts in
func InitialStatus(confidence float64, thresholds models.Thresholds) models.MatchStatus {
	switch {
	case confidence >= thresholds.AutoConfirm:
		return models.MatchStatusConfirmed
	case confidence < thresholds.AutoReject:
		return models.MatchStatusRejected
	default:
		return models.MatchStatusPending
	}
}

// Aggregate combines factors and the temporal result under a configuration
func Aggregate(factors []models.MatchFactor, t temporal.Result, cfg *models.MatchingConfiguration) Result {
	confidence, weightSum, weighted := Confidence(factors, cfg.Weights)

	result := Result{
		Confidence:       confidence,
		ComparableWeight: weightSum,
		Risk:             Risk(t, confidence, cfg.Thresholds),
		Status:           InitialStatus(confidence, cfg.Thresholds),
		Decision:         DecisionEmit,
		Factors:          weighted,
	}
	if confidence < cfg.Thresholds.Minimum {
		result.Decision = DecisionBelowMinimum
	}
	return result
}
