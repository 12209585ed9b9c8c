// Package ingest turns inbound employee records into hashed profiles and keeps
// the profile store and candidate index current. Raw identifiers are dropped as
// soon as they are hashed.
package ingest

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/identifiers"
	"github.com/Ramsey-B/sorrel/pkg/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
	"github.com/Ramsey-B/sorrel/pkg/validation"
)

// Outcome is what ingesting one record did
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeInvalid   Outcome = "invalid"
)

// ProfileStore persists hashed profiles
type ProfileStore interface {
	Get(ctx context.Context, ref models.EmployeeRef) (*models.EmployeeProfile, error)
	Upsert(ctx context.Context, profile *models.EmployeeProfile) (bool, error)
}

// Indexer keeps the candidate index in step with stored profiles
type Indexer interface {
	Upsert(profile *models.EmployeeProfile) error
	Remove(ref models.EmployeeRef)
}

// Result reports the outcome of one Ingest call
type Result struct {
	Outcome             Outcome
	Profile             *models.EmployeeProfile
	NormalizationErrors int
}

// Service ingests employees
type Service struct {
	hasher   *identifiers.Hasher
	configs  *matchconfig.Provider
	profiles ProfileStore
	index    Indexer
	logger   ectologger.Logger
	now      func() time.Time
}

func NewService(hasher *identifiers.Hasher, configs *matchconfig.Provider, profiles ProfileStore, index Indexer, logger ectologger.Logger) *Service {
	return &Service{
		hasher:   hasher,
		configs:  configs,
		profiles: profiles,
		index:    index,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates, normalizes and stores one employee record. The profile
// version only moves when the hashed content changes; a record older than the
// stored profile is ignored.
func (s *Service) Ingest(ctx context.Context, emp *models.Employee) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Service.Ingest")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"employee": emp.Ref().Key(),
	})

	if err := validation.Struct(emp); err != nil {
		metrics.EmployeesIngested.WithLabelValues(string(OutcomeInvalid)).Inc()
		log.WithError(err).Warn("Rejected invalid employee record")
		return &Result{Outcome: OutcomeInvalid}, err
	}

	cfg, err := s.configs.Effective(ctx, emp.CompanyID)
	if err != nil {
		return nil, err
	}

	profile, normErrs := s.hasher.Profile(emp, cfg, s.now())
	for _, nerr := range normErrs {
		metrics.RecordNormalizationError(nerr.Identifier)
		log.WithFields(map[string]any{
			"identifier": nerr.Identifier,
			"reason":     nerr.Reason,
		}).Debug("Identifier marked absent")
	}

	existing, err := s.profiles.Get(ctx, profile.Ref())
	if err != nil {
		return nil, err
	}

	outcome := OutcomeCreated
	switch {
	case existing == nil:
		profile.Version = max(emp.Version, 1)
	case emp.Version > 0 && emp.Version < existing.Version:
		s.record(log, OutcomeStale, existing)
		return &Result{Outcome: OutcomeStale, Profile: existing, NormalizationErrors: len(normErrs)}, nil
	case existing.Fingerprint == profile.Fingerprint && existing.Identifiers.SaltVersion == profile.Identifiers.SaltVersion:
		s.record(log, OutcomeUnchanged, existing)
		return &Result{Outcome: OutcomeUnchanged, Profile: existing, NormalizationErrors: len(normErrs)}, nil
	default:
		outcome = OutcomeUpdated
		profile.Version = max(emp.Version, existing.Version+1)
	}

	written, err := s.profiles.Upsert(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !written {
		// a newer version landed between the read and the write
		s.record(log, OutcomeStale, profile)
		return &Result{Outcome: OutcomeStale, Profile: profile, NormalizationErrors: len(normErrs)}, nil
	}

	if err := s.index.Upsert(profile); err != nil {
		log.WithError(err).Error("Failed to index employee profile")
		return nil, err
	}

	s.record(log, outcome, profile)
	return &Result{Outcome: outcome, Profile: profile, NormalizationErrors: len(normErrs)}, nil
}

func (s *Service) record(log ectologger.Logger, outcome Outcome, profile *models.EmployeeProfile) {
	metrics.EmployeesIngested.WithLabelValues(string(outcome)).Inc()
	log.WithFields(map[string]any{
		"outcome": string(outcome),
		"version": profile.Version,
	}).Debug("Employee ingested")
}

// Remove drops an employee from the candidate index. The stored profile and any
// matches involving it are kept.
func (s *Service) Remove(ctx context.Context, ref models.EmployeeRef) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Service.Remove")
	defer span.End()

	s.index.Remove(ref)
	metrics.EmployeesIngested.WithLabelValues("removed").Inc()
	s.logger.WithContext(ctx).WithFields(map[string]any{"employee": ref.Key()}).Info("Employee removed from candidate index")
}
