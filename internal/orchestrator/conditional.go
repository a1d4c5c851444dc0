package orchestrator

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/aegis-run/aegis/internal/domain"
)

// orderSteps returns steps sorted by their declared Order, which the
// planner assigns in dependency order. Parallel-group membership is
// preserved for future concurrent dispatch but steps still execute
// sequentially here, capped by each step's own budget.
func orderSteps(steps []domain.ExecutionStep) []domain.ExecutionStep {
	out := append([]domain.ExecutionStep(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// evalConditional evaluates a step's predicate against already-completed
// step results. Fields are dot-paths rooted at "step:<id>.status" or
// "step:<id>.result.…"; missing paths yield undefined, and every
// comparison operator then returns false. Any evaluation error defaults to
// skipping the step (the conservative choice).
func evalConditional(c *domain.Conditional, results map[string]any) bool {
	val, ok := resolvePath(c.Field, results)
	if !ok {
		return false // missing path: every comparison operator returns false
	}

	switch c.Operator {
	case domain.OpExists:
		return true
	case domain.OpEq:
		return compareEq(val, c.Value)
	case domain.OpNeq:
		return !compareEq(val, c.Value)
	case domain.OpGt:
		a, aok := asFloat(val)
		b, bok := asFloat(c.Value)
		return aok && bok && a > b
	case domain.OpLt:
		a, aok := asFloat(val)
		b, bok := asFloat(c.Value)
		return aok && bok && a < b
	case domain.OpContains:
		s, ok := val.(string)
		needle, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(s, needle)
	default:
		return false
	}
}

// compareEq applies numeric coercion when both sides parse as finite
// numbers; otherwise compares by type and value without coercion (so
// "true" eq true is always false, per the decision recorded for the
// corresponding open question).
func compareEq(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// resolvePath walks "step:<id>.status" or "step:<id>.result.a.b" against
// the completed-step result map.
func resolvePath(field string, results map[string]any) (any, bool) {
	if !strings.HasPrefix(field, "step:") {
		return nil, false
	}
	rest := strings.TrimPrefix(field, "step:")
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return nil, false
	}
	stepID, path := rest[:dot], rest[dot+1:]

	root, ok := results[stepID]
	if !ok {
		return nil, false
	}

	if path == "status" {
		m, ok := root.(map[string]any)
		if !ok {
			return "completed", true
		}
		if s, ok := m["status"]; ok {
			return s, true
		}
		return "completed", true
	}

	if !strings.HasPrefix(path, "result") {
		return nil, false
	}
	cur := any(root)
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
