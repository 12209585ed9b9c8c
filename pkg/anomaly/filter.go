// Package anomaly suppresses matches that are statistically implausible:
// identity claimed on a single signal, identifiers shared by too many
// companies to be personal, and names that agree while everything else
// disagrees.
package anomaly

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Reason names why a match was suppressed
type Reason string

const (
	ReasonSingleSignal      Reason = "single_signal"
	ReasonGenericIdentifier Reason = "generic_identifier"
	ReasonNameConflict      Reason = "name_conflict"
)

// BucketStats answers how widely an identifier digest is shared
type BucketStats interface {
	BucketStats(kind models.IdentifierKind, hash string) (employees int, companies int)
	LocalCount(companyID, localHash string) int
}

// Verdict is the filter's decision for one evaluation
type Verdict struct {
	Suppressed bool
	Reason     Reason
	Detail     string
}

// Filter applies the suppression rules after aggregation
type Filter struct {
	stats  BucketStats
	logger ectologger.Logger
}

func NewFilter(stats BucketStats, logger ectologger.Logger) *Filter {
	return &Filter{stats: stats, logger: logger}
}

// Check evaluates the rules in order: generic identifier, name conflict, single
// signal. The first rule that fires decides.
func (f *Filter) Check(ctx context.Context, ev *matching.Evaluation, cfg *models.MatchingConfiguration) Verdict {
	verdict := f.check(ev, cfg)
	if verdict.Suppressed {
		f.logger.WithContext(ctx).WithFields(map[string]any{
			"employee1":  ev.First.Ref().Key(),
			"employee2":  ev.Second.Ref().Key(),
			"confidence": ev.Result.Confidence,
			"reason":     string(verdict.Reason),
			"detail":     verdict.Detail,
		}).Info("match suppressed")
	}
	return verdict
}

func (f *Filter) check(ev *matching.Evaluation, cfg *models.MatchingConfiguration) Verdict {
	if v := f.genericIdentifier(ev, cfg.Anomaly); v.Suppressed {
		return v
	}
	if v := nameConflict(ev.Result.Factors, cfg.Anomaly); v.Suppressed {
		return v
	}
	return singleSignal(ev.Result.Factors, ev.Result.Confidence, cfg)
}

func exactHit(factors []models.MatchFactor, kind models.IdentifierKind) bool {
	for _, factor := range factors {
		if factor.Identifier == kind {
			return factor.Present && factor.Similarity >= 1.0
		}
	}
	return false
}

func (f *Filter) genericIdentifier(ev *matching.Evaluation, settings models.AnomalySettings) Verdict {
	if f.stats == nil {
		return Verdict{}
	}

	for _, kind := range []models.IdentifierKind{models.IdentifierSSN, models.IdentifierEmail, models.IdentifierPhone} {
		if !exactHit(ev.Result.Factors, kind) {
			continue
		}
		_, companies := f.stats.BucketStats(kind, ev.First.Identifiers.Hash(kind))
		if settings.GenericIdentifierCompanies > 0 && companies > settings.GenericIdentifierCompanies {
			return Verdict{
				Suppressed: true,
				Reason:     ReasonGenericIdentifier,
				Detail:     fmt.Sprintf("%s digest shared across %d companies", kind, companies),
			}
		}
	}

	if exactHit(ev.Result.Factors, models.IdentifierSSN) && settings.PlaceholderLocalCount > 0 {
		for _, p := range []*models.EmployeeProfile{ev.First, ev.Second} {
			count := f.stats.LocalCount(p.CompanyID, p.Identifiers.SSNLocalHash)
			if count >= settings.PlaceholderLocalCount {
				return Verdict{
					Suppressed: true,
					Reason:     ReasonGenericIdentifier,
					Detail:     fmt.Sprintf("ssn shared by %d employees at %s", count, p.CompanyID),
				}
			}
		}
	}

	return Verdict{}
}

// nameConflict fires when names agree almost perfectly while every other
// comparable identifier disagrees. At least one other identifier must be
// comparable.
func nameConflict(factors []models.MatchFactor, settings models.AnomalySettings) Verdict {
	var name *models.MatchFactor
	others := 0
	for n := range factors {
		factor := &factors[n]
		if !factor.Present {
			continue
		}
		if factor.Identifier == models.IdentifierName {
			name = factor
			continue
		}
		if factor.Similarity > settings.NameConflictDisagreement {
			return Verdict{}
		}
		others++
	}

	if name == nil || others == 0 || name.Similarity < settings.NameConflictSimilarity {
		return Verdict{}
	}
	return Verdict{
		Suppressed: true,
		Reason:     ReasonNameConflict,
		Detail:     fmt.Sprintf("name similarity %.2f with %d disagreeing identifiers", name.Similarity, others),
	}
}

// singleSignal fires when a confidence at or above single_signal_confidence
// rests on fewer than the configured number of identifier kinds. The default
// floor equals the minimum threshold, so every would-be match is checked.
func singleSignal(factors []models.MatchFactor, confidence float64, cfg *models.MatchingConfiguration) Verdict {
	if confidence < cfg.Anomaly.SingleSignalConfidence {
		return Verdict{}
	}

	signals := 0
	for _, factor := range factors {
		if factor.Present && factor.Weight > 0 && factor.Similarity >= cfg.Anomaly.NonTrivialSimilarity {
			signals++
		}
	}
	if signals >= cfg.Anomaly.SingleSignalMinimum {
		return Verdict{}
	}
	return Verdict{
		Suppressed: true,
		Reason:     ReasonSingleSignal,
		Detail:     fmt.Sprintf("%d non-trivial signal(s), %d required", signals, cfg.Anomaly.SingleSignalMinimum),
	}
}
