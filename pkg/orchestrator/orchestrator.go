// Package orchestrator drives matching runs: it pages employees in scope,
// fans them out to a bounded worker pool, scores their candidates and merges
// the outcomes into the match store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	"github.com/Ramsey-B/sorrel/pkg/anomaly"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/paircache"
	"github.com/Ramsey-B/sorrel/pkg/redis"
	"github.com/Ramsey-B/sorrel/pkg/temporal"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var (
	// ErrRunInProgress is returned when another run holds the scope lock
	ErrRunInProgress = errors.New("a matching run is already in progress for this scope")

	// ErrInvalidMode is returned for an unknown run mode
	ErrInvalidMode = errors.New("invalid run mode")
)

const (
	// DefaultLockTTL bounds how long a crashed run can block its scope
	DefaultLockTTL = time.Hour

	// DefaultRetryInterval is the first backoff interval for pair and lookup retries
	DefaultRetryInterval = 50 * time.Millisecond

	lockKeyPrefix = "run:"
)

// ProfileStore pages and fetches hashed employee profiles
type ProfileStore interface {
	Count(ctx context.Context, q employeeprofile.PageQuery) (int, error)
	ListPage(ctx context.Context, q employeeprofile.PageQuery) ([]*models.EmployeeProfile, error)
	GetMany(ctx context.Context, refs []models.EmployeeRef) ([]*models.EmployeeProfile, error)
}

// MatchStore persists matches by canonical pair
type MatchStore interface {
	GetByPair(ctx context.Context, a, b models.EmployeeRef) (*models.Match, error)
	Insert(ctx context.Context, m *models.Match) error
	Update(ctx context.Context, m *models.Match) error
}

// RunStore persists run summaries
type RunStore interface {
	Save(ctx context.Context, summary *models.RunSummary) error
	Get(ctx context.Context, jobID string) (*models.RunSummary, error)
	LastSuccessful(ctx context.Context, scope string) (*models.RunSummary, error)
}

// CandidateSource returns blocking candidates for a profile
type CandidateSource interface {
	FindCandidates(ctx context.Context, profile *models.EmployeeProfile, limit int) ([]models.EmployeeRef, int, error)
}

// Locker hands out per-scope run locks
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Dependencies are the collaborators of an Orchestrator. Cache, Locker,
// Listener, Nicknames and Analyzer are optional.
type Dependencies struct {
	Profiles   ProfileStore
	Matches    MatchStore
	Runs       RunStore
	Configs    *matchconfig.Provider
	Candidates CandidateSource
	Filter     *anomaly.Filter
	Cache      paircache.Cache
	Locker     Locker
	Listener   events.Listener
	Nicknames  *matching.NicknameTable
	Analyzer   *temporal.Analyzer
}

// Options tune the orchestrator itself; matching behaviour comes from the
// effective MatchingConfiguration
type Options struct {
	LockTTL       time.Duration
	RetryInterval time.Duration
	Now           func() time.Time
}

// Orchestrator runs matching jobs
type Orchestrator struct {
	deps    Dependencies
	options Options
	logger  ectologger.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	summary *models.RunSummary
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an orchestrator
func New(deps Dependencies, options Options, logger ectologger.Logger) *Orchestrator {
	if deps.Cache == nil {
		deps.Cache = paircache.NewMemoryCache()
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if options.LockTTL <= 0 {
		options.LockTTL = DefaultLockTTL
	}
	if options.RetryInterval <= 0 {
		options.RetryInterval = DefaultRetryInterval
	}
	if options.Now == nil {
		options.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Orchestrator{
		deps:    deps,
		options: options,
		logger:  logger,
		active:  map[string]*activeRun{},
	}
}

// run is the state shared by the workers of one job
type run struct {
	req     models.RunRequest
	cfg     *models.MatchingConfiguration
	engine  *matching.Engine
	summary *models.RunSummary
}

// Run executes a matching run synchronously and returns its summary. The
// summary is returned alongside the error when the run fails or is cancelled.
func (o *Orchestrator) Run(ctx context.Context, req models.RunRequest) (*models.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Run")
	defer span.End()

	r, release, err := o.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer o.releaseLock(ctx, req, release)

	err = o.execute(ctx, r)
	return r.summary.Snapshot(), err
}

// Trigger starts a run in the background and returns its job id. Lock
// contention and configuration errors are reported synchronously.
func (o *Orchestrator) Trigger(ctx context.Context, req models.RunRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Trigger")
	defer span.End()

	r, release, err := o.prepare(ctx, &req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := &activeRun{summary: r.summary, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.active[req.JobID] = active
	o.mu.Unlock()

	go func() {
		defer close(active.done)
		defer cancel()
		defer o.releaseLock(runCtx, req, release)
		defer func() {
			o.mu.Lock()
			delete(o.active, req.JobID)
			o.mu.Unlock()
		}()

		_ = o.execute(runCtx, r)
	}()

	return req.JobID, nil
}

// Status returns the live summary of a running job, or the persisted one
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.RunSummary, error) {
	o.mu.Lock()
	active, ok := o.active[jobID]
	o.mu.Unlock()
	if ok {
		return active.summary.Snapshot(), nil
	}
	return o.deps.Runs.Get(ctx, jobID)
}

// Cancel stops a background job between batches. It reports whether the job
// was running in this process.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	active, ok := o.active[jobID]
	o.mu.Unlock()
	if ok {
		active.cancel()
	}
	return ok
}

// Wait blocks until a background job started by this process finishes
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	active, ok := o.active[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare validates the request and configuration, takes the scope lock and
// records the run as started
func (o *Orchestrator) prepare(ctx context.Context, req *models.RunRequest) (*run, func(context.Context) error, error) {
	if req.Mode != models.RunModeIncremental && req.Mode != models.RunModeFull {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}

	cfg, err := o.deps.Configs.Effective(ctx, req.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	engine, err := matching.NewEngine(cfg, o.deps.Nicknames, o.deps.Analyzer)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": req.JobID,
			"scope":  req.Scope(),
		}).Error("Refusing to run with invalid matching configuration")
		return nil, nil, err
	}

	release, err := o.deps.Locker.Lock(ctx, lockKeyPrefix+req.Scope(), o.options.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) || errors.Is(err, ErrRunInProgress) {
			return nil, nil, ErrRunInProgress
		}
		return nil, nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	summary := models.NewRunSummary(*req, o.options.Now())
	if req.Mode == models.RunModeIncremental {
		last, err := o.deps.Runs.LastSuccessful(ctx, req.Scope())
		if err != nil {
			_ = release(ctx)
			return nil, nil, err
		}
		if last != nil {
			since := last.StartedAt
			summary.Since = &since
		}
	}

	if err := o.deps.Runs.Save(ctx, summary.Snapshot()); err != nil {
		_ = release(ctx)
		return nil, nil, err
	}

	return &run{req: *req, cfg: cfg, engine: engine, summary: summary}, release, nil
}

func (o *Orchestrator) releaseLock(ctx context.Context, req models.RunRequest, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": req.JobID,
			"scope":  req.Scope(),
		}).Warn("Failed to release run lock")
	}
}

// execute pages through the scope and finalizes the summary
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":         r.req.JobID,
		"mode":           string(r.req.Mode),
		"scope":          r.req.Scope(),
		"config_version": r.engine.ConfigVersion(),
	})
	log.Info("Matching run started")

	err := o.processScope(ctx, r)

	status := models.RunStatusSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = models.RunStatusCancelled
	default:
		status = models.RunStatusFailed
	}

	finished := o.options.Now()
	r.summary.Finish(status, err, finished)
	metrics.RecordRun(string(r.req.Mode), string(status), finished.Sub(r.summary.StartedAt).Seconds())

	saveCtx := context.WithoutCancel(ctx)
	if saveErr := o.deps.Runs.Save(saveCtx, r.summary.Snapshot()); saveErr != nil {
		log.WithError(saveErr).Error("Failed to save run summary")
		if err == nil {
			err = saveErr
		}
	}

	snapshot := r.summary.Snapshot()
	fields := map[string]any{
		"status":             string(status),
		"employees_in_scope": snapshot.EmployeesInScope,
		"pairs_scored":       snapshot.PairsScored,
		"matches_created":    snapshot.MatchesCreated,
		"matches_updated":    snapshot.MatchesUpdated,
		"suppressed":         r.summary.TotalSuppressed(),
		"failed_pairs":       len(snapshot.FailedPairs),
		"skipped":            len(snapshot.Skipped),
		"cache_hit_rate":     r.summary.CacheHitRate(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("Matching run did not complete")
		return err
	}
	log.WithFields(fields).Info("Matching run finished")
	return nil
}

func (o *Orchestrator) processScope(ctx context.Context, r *run) error {
	query := employeeprofile.PageQuery{
		CompanyID:    r.req.CompanyID,
		UpdatedSince: r.summary.Since,
		Limit:        r.cfg.Run.BatchSize,
	}

	total, err := o.deps.Profiles.Count(ctx, query)
	if err != nil {
		return err
	}
	r.summary.Update(func(s *models.RunSummary) { s.EmployeesInScope = total })

	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.deps.Profiles.ListPage(ctx, query)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		o.processBatch(ctx, r, batch, page)

		if len(page) < query.Limit {
			return ctx.Err()
		}
		last := page[len(page)-1].Ref()
		query.After = &last
	}
}

// processBatch fans the batch out to the worker pool. Workers account for
// their own failures, so the group never aborts early.
func (o *Orchestrator) processBatch(ctx context.Context, r *run, index int, page []*models.EmployeeProfile) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.processBatch")
	defer span.End()

	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Run.Workers)
	for _, profile := range page {
		g.Go(func() error {
			o.processEmployee(gctx, r, profile)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(started)
	metrics.RecordBatch(string(r.req.Mode), elapsed.Seconds())
	r.summary.Update(func(s *models.RunSummary) {
		s.Batches = append(s.Batches, models.BatchStat{Index: index, Employees: len(page), Duration: elapsed})
	})
}
