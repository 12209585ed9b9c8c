package ingest

import (
	"context"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/connectors"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// ImportStats counts import outcomes
type ImportStats map[Outcome]int

// Import pulls employees from a connector and ingests them one by one. A nil
// since fetches everything. Invalid records are counted and skipped; store
// errors stop the import.
func (s *Service) Import(ctx context.Context, provider connectors.Provider, companyID string, since *time.Time) (ImportStats, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Service.Import")
	defer span.End()

	if err := provider.Authenticate(ctx); err != nil {
		return nil, err
	}

	var (
		records []models.Employee
		err     error
	)
	if since == nil {
		records, err = provider.FetchEmployees(ctx, companyID)
	} else {
		records, err = provider.SyncIncremental(ctx, companyID, *since)
	}
	if err != nil {
		return nil, err
	}

	stats := ImportStats{}
	for n := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		result, err := s.Ingest(ctx, &records[n])
		if result != nil {
			stats[result.Outcome]++
		}
		if err != nil && (result == nil || result.Outcome != OutcomeInvalid) {
			return stats, err
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"connector": provider.Name(),
		"company":   companyID,
		"records":   len(records),
		"created":   stats[OutcomeCreated],
		"updated":   stats[OutcomeUpdated],
		"unchanged": stats[OutcomeUnchanged],
		"invalid":   stats[OutcomeInvalid],
	}).Info("Import finished")
	return stats, nil
}
