package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// RelationshipType links two employee nodes that may be the same person
const RelationshipType = "POSSIBLE_SAME_PERSON"

// Writer executes a write statement
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

// Projector keeps a graph of employees and their possible duplicates in step
// with persisted matches. Rejected matches remove the relationship.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

const mergeCypher = `
	MERGE (a:Employee {company_id: $company1, employee_id: $employee1})
	MERGE (b:Employee {company_id: $company2, employee_id: $employee2})
	MERGE (a)-[r:` + RelationshipType + ` {match_id: $match_id}]->(b)
	SET r.confidence = $confidence,
		r.risk_level = $risk_level,
		r.status = $status,
		r.temporal_overlap = $temporal_overlap,
		r.config_version = $config_version
`

const deleteCypher = `
	MATCH (:Employee {company_id: $company1, employee_id: $employee1})-[r:` + RelationshipType + ` {match_id: $match_id}]->(:Employee {company_id: $company2, employee_id: $employee2})
	DELETE r
`

// Statement returns the cypher and parameters that project m
func Statement(m *models.Match) (string, map[string]any) {
	params := map[string]any{
		"company1":         m.Employee1.CompanyID,
		"employee1":        m.Employee1.EmployeeID,
		"company2":         m.Employee2.CompanyID,
		"employee2":        m.Employee2.EmployeeID,
		"match_id":         m.ID,
		"confidence":       m.ConfidenceScore,
		"risk_level":       string(m.RiskLevel),
		"status":           string(m.Status),
		"temporal_overlap": m.TemporalOverlap,
		"config_version":   m.ConfigVersion,
	}
	if m.Status == models.MatchStatusRejected {
		return deleteCypher, params
	}
	return mergeCypher, params
}

func (p *Projector) project(ctx context.Context, m *models.Match) error {
	cypher, params := Statement(m)
	if err := p.writer.Write(ctx, cypher, params); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id":  m.ID,
			"employee1": m.Employee1.Key(),
			"employee2": m.Employee2.Key(),
		}).Error("Failed to project match into graph")
		return err
	}
	return nil
}

func (p *Projector) MatchCreated(ctx context.Context, _ string, m *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.MatchCreated")
	defer span.End()

	return p.project(ctx, m)
}

func (p *Projector) MatchUpdated(ctx context.Context, _ string, current, _ *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.MatchUpdated")
	defer span.End()

	return p.project(ctx, current)
}
