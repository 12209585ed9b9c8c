// Package connectors pulls employee records from HR systems
package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Provider is one source of employee records
type Provider interface {
	Name() string
	Authenticate(ctx context.Context) error
	FetchEmployees(ctx context.Context, companyID string) ([]models.Employee, error)
	SyncIncremental(ctx context.Context, companyID string, since time.Time) ([]models.Employee, error)
}

// Registry holds providers by name
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds p. Registering a second provider with the same name fails.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("connector %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("connector %q not found", name)
	}
	return p, nil
}

// Names lists registered providers in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
