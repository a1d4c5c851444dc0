// Package planstrip implements the security-critical contract between the
// planner and the validator: a pure function that reduces an ExecutionPlan
// to only the fields the validator is ever permitted to see.
package planstrip

import "github.com/aegis-run/aegis/internal/domain"

// Step is the validator-visible view of an ExecutionStep: id, capability,
// action, parameters, risk-level. No description, ordering, dependencies,
// parallel-group tag, rollback reference, conditional predicate, or
// metadata survives.
type Step struct {
	ID         string              `json:"id"`
	Capability string              `json:"capability"`
	Action     string              `json:"action"`
	Parameters map[string]any      `json:"parameters"`
	RiskLevel  domain.RiskLevel    `json:"riskLevel"`
}

// Plan is the validator-visible view of an ExecutionPlan.
type Plan struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`
	Steps []Step `json:"steps"`
}

// Strip produces a Plan containing only {id, jobId, steps[*].{id,
// capability, action, parameters, riskLevel}}. No reasoning, description, cost,
// metadata, or rollback reference passes through.
func Strip(p *domain.ExecutionPlan) Plan {
	steps := make([]Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, Step{
			ID:         s.ID,
			Capability: s.Capability,
			Action:     s.Action,
			Parameters: copyParams(s.Parameters),
			RiskLevel:  s.RiskLevel,
		})
	}
	return Plan{ID: p.ID, JobID: p.JobID, Steps: steps}
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
