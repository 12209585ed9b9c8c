package orchestrator

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/Ramsey-B/sorrel/pkg/aggregate"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/paircache"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Skip reasons recorded in the run summary
const (
	SkipCandidateLookup = "candidate_lookup_failed"
	SkipProfileLookup   = "profile_lookup_failed"
)

// Persisted outcomes of a pair
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
	ActionRefreshed = "refreshed"
)

const maxMergeAttempts = 3

func (o *Orchestrator) retryPolicy(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.options.RetryInterval
	b.MaxInterval = 20 * o.options.RetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retry runs fn under the per-call timeout, retrying with exponential
// backoff. Context cancellation of the parent is never retried.
func (o *Orchestrator) retry(ctx context.Context, r *run, fn func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Run.PairTimeout)
		defer cancel()
		return fn(callCtx)
	}, o.retryPolicy(ctx, r.cfg.Run.PairRetries))
}

// processEmployee scores every candidate of one employee in order
func (o *Orchestrator) processEmployee(ctx context.Context, r *run, profile *models.EmployeeProfile) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.processEmployee")
	defer span.End()

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   r.req.JobID,
		"employee": profile.Ref().Key(),
	})

	var (
		refs    []models.EmployeeRef
		dropped int
	)
	err := o.retry(ctx, r, func(ctx context.Context) error {
		var err error
		refs, dropped, err = o.deps.Candidates.FindCandidates(ctx, profile, r.cfg.Run.MaxCandidates)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("Skipping employee after candidate lookup failures")
		r.summary.AddSkipped(profile.Ref(), SkipCandidateLookup)
		metrics.EmployeesSkipped.WithLabelValues(SkipCandidateLookup).Inc()
		return
	}

	metrics.RecordCandidates(len(refs), dropped)
	r.summary.Update(func(s *models.RunSummary) {
		s.CandidatesGenerated += len(refs)
		s.CandidatesDropped += dropped
	})

	var candidates []*models.EmployeeProfile
	if len(refs) > 0 {
		err = o.retry(ctx, r, func(ctx context.Context) error {
			var err error
			candidates, err = o.deps.Profiles.GetMany(ctx, refs)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Skipping employee after candidate profile lookup failures")
			r.summary.AddSkipped(profile.Ref(), SkipProfileLookup)
			metrics.EmployeesSkipped.WithLabelValues(SkipProfileLookup).Inc()
			return
		}
	}

	byRef := make(map[string]*models.EmployeeProfile, len(candidates))
	for _, c := range candidates {
		byRef[c.Ref().Key()] = c
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		candidate, ok := byRef[ref.Key()]
		if !ok || candidate.Identifiers.SaltVersion != profile.Identifiers.SaltVersion {
			log.WithFields(map[string]any{"candidate": ref.Key()}).Debug("Candidate no longer available")
			continue
		}

		err := o.retry(ctx, r, func(ctx context.Context) error {
			return o.processPair(ctx, r, profile, candidate)
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithFields(map[string]any{"candidate": ref.Key()}).Error("Pair failed after retries")
			first, second, _ := models.CanonicalPair(profile.Ref(), candidate.Ref())
			r.summary.AddFailedPair(first, second, err.Error())
			metrics.PairFailures.Inc()
		}
	}

	r.summary.Update(func(s *models.RunSummary) { s.EmployeesProcessed++ })
}

// processPair resolves one pair from the cache or the engine and records the
// decision
func (o *Orchestrator) processPair(ctx context.Context, r *run, a, b *models.EmployeeProfile) error {
	key := paircache.Key(a.Ref(), a.Version, b.Ref(), b.Version, r.engine.ConfigVersion())

	cached, hit, err := o.deps.Cache.Get(ctx, key)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("Pair cache lookup failed, scoring")
		hit = false
	}
	if hit {
		o.recordCached(r, cached)
		return nil
	}

	ev := r.engine.Evaluate(a, b)
	entry, err := o.decide(ctx, r, ev)
	if err != nil {
		return err
	}

	metrics.RecordPairScored(false)
	r.summary.Update(func(s *models.RunSummary) {
		s.PairsScored++
		s.CacheMisses++
	})

	if err := o.deps.Cache.Set(ctx, key, entry); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to cache pair outcome")
	}
	return nil
}

func (o *Orchestrator) recordCached(r *run, entry *paircache.Entry) {
	metrics.RecordPairScored(true)
	r.summary.Update(func(s *models.RunSummary) {
		s.PairsScored++
		s.CacheHits++
		switch entry.Decision {
		case paircache.DecisionEmitted:
			s.MatchesUnchanged++
		case paircache.DecisionBelowMinimum:
			s.BelowMinimum++
		case paircache.DecisionSuppressed:
			s.Suppressed[entry.Reason]++
		}
	})
}

// decide applies the minimum threshold and the anomaly filter, then persists
func (o *Orchestrator) decide(ctx context.Context, r *run, ev *matching.Evaluation) (*paircache.Entry, error) {
	entry := &paircache.Entry{
		Confidence: ev.Result.Confidence,
		Risk:       ev.Result.Risk,
		Outcome:    outcome(ev.Result.Confidence, ev.Result.Risk, ev.Temporal.OverlapDays),
	}

	if ev.Result.Decision == aggregate.DecisionBelowMinimum {
		if err := o.refresh(ctx, r, ev); err != nil {
			return nil, err
		}
		entry.Decision = paircache.DecisionBelowMinimum
		metrics.BelowMinimum.Inc()
		r.summary.Update(func(s *models.RunSummary) { s.BelowMinimum++ })
		return entry, nil
	}

	if o.deps.Filter != nil {
		if verdict := o.deps.Filter.Check(ctx, ev, r.cfg); verdict.Suppressed {
			if err := o.refresh(ctx, r, ev); err != nil {
				return nil, err
			}
			entry.Decision = paircache.DecisionSuppressed
			entry.Reason = string(verdict.Reason)
			metrics.RecordSuppressed(entry.Reason)
			r.summary.AddSuppressed(entry.Reason)
			return entry, nil
		}
	}

	action, match, err := o.persist(ctx, r, ev, true)
	if err != nil {
		return nil, err
	}
	metrics.RecordMatch(action, string(match.RiskLevel))

	entry.Decision = paircache.DecisionEmitted
	return entry, nil
}

func outcome(confidence float64, risk models.RiskLevel, overlapDays int) string {
	return fmt.Sprintf("%.4f|%s|%d", confidence, risk, overlapDays)
}

// refresh folds the recomputed score of a pair that no longer qualifies into
// its stored match, if one exists. The row is kept with its status.
func (o *Orchestrator) refresh(ctx context.Context, r *run, ev *matching.Evaluation) error {
	action, match, err := o.persist(ctx, r, ev, false)
	if err != nil || match == nil || action == ActionUnchanged {
		return err
	}
	metrics.RecordMatch(action, string(match.RiskLevel))
	return nil
}

// persist merges the evaluation into the stored match for the canonical pair.
// With create unset a pair without a stored match is left alone and an
// existing match keeps its status. A concurrent writer on the same pair
// surfaces as a PersistenceConflict and is resolved by re-reading and merging
// again.
func (o *Orchestrator) persist(ctx context.Context, r *run, ev *matching.Evaluation, create bool) (string, *models.Match, error) {
	now := o.options.Now()
	computed := ev.ToMatch(r.engine.ConfigVersion(), now)

	var lastErr error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		existing, err := o.deps.Matches.GetByPair(ctx, computed.Employee1, computed.Employee2)
		if err != nil {
			return "", nil, err
		}

		if existing == nil {
			if !create {
				return "", nil, nil
			}
			m := *computed
			err = o.deps.Matches.Insert(ctx, &m)
			if err == nil {
				r.summary.Update(func(s *models.RunSummary) { s.MatchesCreated++ })
				o.notifyCreated(ctx, r, &m)
				return ActionCreated, &m, nil
			}
		} else {
			action, merged := merge(existing, computed)
			if !create {
				merged.Status = existing.Status
			}
			if action == ActionUnchanged && !needsRefresh(existing, merged) {
				if create {
					r.summary.Update(func(s *models.RunSummary) { s.MatchesUnchanged++ })
				}
				return ActionUnchanged, existing, nil
			}
			err = o.deps.Matches.Update(ctx, merged)
			if err == nil {
				o.recordMerge(ctx, r, action, merged, existing, create)
				if !create {
					return ActionRefreshed, merged, nil
				}
				return action, merged, nil
			}
		}

		if !matcherrors.IsPersistenceConflict(err) {
			return "", nil, err
		}
		lastErr = err
		o.logger.WithContext(ctx).WithFields(map[string]any{
			"employee1": computed.Employee1.Key(),
			"employee2": computed.Employee2.Key(),
			"attempt":   attempt + 1,
		}).Debug("Concurrent match write, re-reading")
	}
	return "", nil, lastErr
}

func (o *Orchestrator) recordMerge(ctx context.Context, r *run, action string, merged, existing *models.Match, create bool) {
	switch {
	case !create:
		r.summary.Update(func(s *models.RunSummary) { s.MatchesRefreshed++ })
		if action == ActionUpdated && !existing.Reviewed && !merged.Reviewed {
			o.notifyUpdated(ctx, r, merged, existing)
		}
	case action == ActionUpdated:
		r.summary.Update(func(s *models.RunSummary) { s.MatchesUpdated++ })
		if !existing.Reviewed && !merged.Reviewed {
			o.notifyUpdated(ctx, r, merged, existing)
		}
	default:
		r.summary.Update(func(s *models.RunSummary) { s.MatchesUnchanged++ })
	}
}

// merge folds a freshly computed outcome into the stored match. The id and
// creation time are kept; a reviewed match keeps its human decision.
func merge(existing, computed *models.Match) (string, *models.Match) {
	merged := *computed
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	if existing.Reviewed {
		merged.Status = existing.Status
		merged.Reviewed = true
	}

	if computed.SameOutcome(existing) {
		return ActionUnchanged, &merged
	}
	return ActionUpdated, &merged
}

// needsRefresh reports whether an unchanged outcome still has stale
// bookkeeping worth writing
func needsRefresh(existing, merged *models.Match) bool {
	return existing.Employee1Version != merged.Employee1Version ||
		existing.Employee2Version != merged.Employee2Version ||
		existing.ConfigVersion != merged.ConfigVersion
}

func (o *Orchestrator) notifyCreated(ctx context.Context, r *run, m *models.Match) {
	if o.deps.Listener == nil {
		return
	}
	if err := o.deps.Listener.MatchCreated(context.WithoutCancel(ctx), r.req.JobID, m); err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": m.ID}).Error("Failed to publish match.created")
	}
}

func (o *Orchestrator) notifyUpdated(ctx context.Context, r *run, current, previous *models.Match) {
	if o.deps.Listener == nil {
		return
	}
	if err := o.deps.Listener.MatchUpdated(context.WithoutCancel(ctx), r.req.JobID, current, previous); err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": current.ID}).Error("Failed to publish match.updated")
	}
}
