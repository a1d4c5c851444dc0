package scout

import (
	"sort"
	"strings"

	"github.com/aegis-run/aegis/internal/domain"
)

// Fingerprint computes the structural-equality fingerprint of a plan: a
// sorted concatenation of per-step "capability:action[sorted-param-keys]@risk".
// Two plans with the same fingerprint are structurally equal up to
// parameter-key ordering, independent of reasoning text or descriptions.
func Fingerprint(p *domain.ExecutionPlan) string {
	parts := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		keys := make([]string, 0, len(s.Parameters))
		for k := range s.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, s.Capability+":"+s.Action+"["+strings.Join(keys, ",")+"]@"+string(s.RiskLevel))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
