package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// JSONFileProvider reads employees from an export file. Files ending in .yaml
// or .yml are decoded as YAML; everything else as a JSON array.
type JSONFileProvider struct {
	name string
	path string
}

func NewJSONFileProvider(name, path string) *JSONFileProvider {
	if name == "" {
		name = "file"
	}
	return &JSONFileProvider{name: name, path: path}
}

func (p *JSONFileProvider) Name() string {
	return p.name
}

// Authenticate checks that the export is readable
func (p *JSONFileProvider) Authenticate(_ context.Context) error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("connector %s: %w", p.name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("connector %s: %s is a directory", p.name, p.path)
	}
	return nil
}

func (p *JSONFileProvider) load() ([]models.Employee, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", p.name, err)
	}

	var employees []models.Employee
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".yaml", ".yml":
		// round-trip through JSON so the json tags and time formats apply
		var raw []map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("connector %s: failed to parse yaml: %w", p.name, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("connector %s: %w", p.name, err)
		}
	}
	if err := json.Unmarshal(data, &employees); err != nil {
		return nil, fmt.Errorf("connector %s: failed to parse employees: %w", p.name, err)
	}
	return employees, nil
}

// FetchEmployees returns every record for companyID, or all records when
// companyID is empty
func (p *JSONFileProvider) FetchEmployees(ctx context.Context, companyID string) ([]models.Employee, error) {
	return p.SyncIncremental(ctx, companyID, time.Time{})
}

// SyncIncremental returns records updated at or after since
func (p *JSONFileProvider) SyncIncremental(ctx context.Context, companyID string, since time.Time) ([]models.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	employees, err := p.load()
	if err != nil {
		return nil, err
	}
	return ectolinq.Filter(employees, func(e models.Employee) bool {
		if companyID != "" && e.CompanyID != companyID {
			return false
		}
		return since.IsZero() || !e.UpdatedAt.Before(since)
	}), nil
}
