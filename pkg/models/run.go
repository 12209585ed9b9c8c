package models

import (
	"sync"
	"time"
)

// RunMode selects which employees a run considers
type RunMode string

const (
	RunModeIncremental RunMode = "incremental"
	RunModeFull        RunMode = "full"
)

// RunStatus is the lifecycle state of a matching run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRequest triggers a matching run
type RunRequest struct {
	JobID     string  `json:"job_id"`
	Mode      RunMode `json:"mode" validate:"required,oneof=incremental full"`
	CompanyID string  `json:"company_id,omitempty"`
}

// Scope is the lock and watermark key for the request
func (r RunRequest) Scope() string {
	if r.CompanyID == "" {
		return GlobalScope
	}
	return r.CompanyID
}

// SkippedEmployee records an employee the run could not process
type SkippedEmployee struct {
	Employee EmployeeRef `json:"employee"`
	Reason   string      `json:"reason"`
}

// FailedPair records a pair that exhausted its retries
type FailedPair struct {
	Employee1 EmployeeRef `json:"employee1"`
	Employee2 EmployeeRef `json:"employee2"`
	Reason    string      `json:"reason"`
}

// BatchStat is the latency of one processed batch
type BatchStat struct {
	Index     int           `json:"index"`
	Employees int           `json:"employees"`
	Duration  time.Duration `json:"duration"`
}

// RunSummary accounts for everything a run did, including what it discarded.
// Counters are safe for concurrent use by workers.
type RunSummary struct {
	mu sync.Mutex

	JobID      string     `json:"job_id"`
	Mode       RunMode    `json:"mode"`
	Scope      string     `json:"scope"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Error      string     `json:"error,omitempty"`

	EmployeesInScope    int            `json:"employees_in_scope"`
	EmployeesProcessed  int            `json:"employees_processed"`
	CandidatesGenerated int            `json:"candidates_generated"`
	CandidatesDropped   int            `json:"candidates_dropped"`
	PairsScored         int            `json:"pairs_scored"`
	CacheHits           int            `json:"cache_hits"`
	CacheMisses         int            `json:"cache_misses"`
	MatchesCreated      int            `json:"matches_created"`
	MatchesUpdated      int            `json:"matches_updated"`
	MatchesUnchanged    int            `json:"matches_unchanged"`
	MatchesRefreshed    int            `json:"matches_refreshed"`
	BelowMinimum        int            `json:"below_minimum"`
	Suppressed          map[string]int `json:"suppressed"`
	NormalizationErrors int            `json:"normalization_errors"`

	Skipped     []SkippedEmployee `json:"skipped,omitempty"`
	FailedPairs []FailedPair      `json:"failed_pairs,omitempty"`
	Batches     []BatchStat       `json:"batches,omitempty"`
}

// NewRunSummary starts a summary for a request
func NewRunSummary(req RunRequest, startedAt time.Time) *RunSummary {
	return &RunSummary{
		JobID:      req.JobID,
		Mode:       req.Mode,
		Scope:      req.Scope(),
		Status:     RunStatusRunning,
		StartedAt:  startedAt,
		Suppressed: map[string]int{},
	}
}

// Update applies fn under the summary lock
func (s *RunSummary) Update(fn func(s *RunSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// AddSuppressed counts a suppressed match by reason
func (s *RunSummary) AddSuppressed(reason string) {
	s.Update(func(s *RunSummary) {
		s.Suppressed[reason]++
	})
}

// AddSkipped records a skipped employee
func (s *RunSummary) AddSkipped(ref EmployeeRef, reason string) {
	s.Update(func(s *RunSummary) {
		s.Skipped = append(s.Skipped, SkippedEmployee{Employee: ref, Reason: reason})
	})
}

// AddFailedPair records a pair that could not be scored or persisted
func (s *RunSummary) AddFailedPair(a, b EmployeeRef, reason string) {
	s.Update(func(s *RunSummary) {
		s.FailedPairs = append(s.FailedPairs, FailedPair{Employee1: a, Employee2: b, Reason: reason})
	})
}

// Emitted is the number of matches written by the run
func (s *RunSummary) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MatchesCreated + s.MatchesUpdated + s.MatchesUnchanged
}

// TotalSuppressed sums suppressed matches across reasons
func (s *RunSummary) TotalSuppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.Suppressed {
		total += n
	}
	return total
}

// CacheHitRate is hits / (hits + misses), 0 when nothing was looked up
func (s *RunSummary) CacheHitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(lookups)
}

// Finish stamps the terminal status
func (s *RunSummary) Finish(status RunStatus, err error, at time.Time) {
	s.Update(func(s *RunSummary) {
		s.Status = status
		s.FinishedAt = &at
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// Snapshot returns a copy safe to serialize while workers keep running
func (s *RunSummary) Snapshot() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &RunSummary{
		JobID:               s.JobID,
		Mode:                s.Mode,
		Scope:               s.Scope,
		Status:              s.Status,
		StartedAt:           s.StartedAt,
		FinishedAt:          s.FinishedAt,
		Since:               s.Since,
		Error:               s.Error,
		EmployeesInScope:    s.EmployeesInScope,
		EmployeesProcessed:  s.EmployeesProcessed,
		CandidatesGenerated: s.CandidatesGenerated,
		CandidatesDropped:   s.CandidatesDropped,
		PairsScored:         s.PairsScored,
		CacheHits:           s.CacheHits,
		CacheMisses:         s.CacheMisses,
		MatchesCreated:      s.MatchesCreated,
		MatchesUpdated:      s.MatchesUpdated,
		MatchesUnchanged:    s.MatchesUnchanged,
		MatchesRefreshed:    s.MatchesRefreshed,
		BelowMinimum:        s.BelowMinimum,
		NormalizationErrors: s.NormalizationErrors,
		Suppressed:          make(map[string]int, len(s.Suppressed)),
		Skipped:             append([]SkippedEmployee(nil), s.Skipped...),
		FailedPairs:         append([]FailedPair(nil), s.FailedPairs...),
		Batches:             append([]BatchStat(nil), s.Batches...),
	}
	for k, v := range s.Suppressed {
		out.Suppressed[k] = v
	}
	return out
}
