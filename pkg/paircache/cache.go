// Package paircache remembers the outcome of scoring a pair at specific
// employee versions under a specific configuration, so unchanged pairs are not
// rescored on the next run.
package paircache

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Decision is what the run did with a scored pair
type Decision string

const (
	DecisionEmitted      Decision = "emitted"
	DecisionBelowMinimum Decision = "below_minimum"
	DecisionSuppressed   Decision = "suppressed"
)

// Entry is a cached pair outcome
type Entry struct {
	Decision   Decision         `json:"decision"`
	Reason     string           `json:"reason,omitempty"`
	Confidence float64          `json:"confidence"`
	Risk       models.RiskLevel `json:"risk"`
	Outcome    string           `json:"outcome"`
}

// Cache stores entries by pair key. Concurrent writers to the same key are
// resolved last-writer-wins.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
}

// Key builds the cache key for a pair. The pair is put in canonical order so
// (a, b) and (b, a) share an entry.
func Key(a models.EmployeeRef, va int64, b models.EmployeeRef, vb int64, configVersion string) string {
	if _, _, swapped := models.CanonicalPair(a, b); swapped {
		a, b = b, a
		va, vb = vb, va
	}
	return fmt.Sprintf("%s@%d|%s@%d|%s", a.Key(), va, b.Key(), vb, configVersion)
}

// MemoryCache is a process-local cache
type MemoryCache struct {
	entries sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := *v.(*Entry)
	return &entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry) error {
	stored := *entry
	c.entries.Store(key, &stored)
	return nil
}

// Len counts cached entries
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
