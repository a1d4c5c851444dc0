package scout

import (
	"regexp"
	"strings"
)

// Symptom classifies why a planning attempt's raw output couldn't be used
// as-is.
type Symptom string

const (
	SymptomNone        Symptom = ""
	SymptomMalformed   Symptom = "malformed_json"
	SymptomRefusal     Symptom = "refusal"
	SymptomTruncated   Symptom = "truncated"
	SymptomEmpty       Symptom = "empty_or_nonsense"
	SymptomRepetitive  Symptom = "repetitive"
	SymptomInfiniteLoop Symptom = "infinite_replanning"
)

// Action is what the FailureHandler tells the planner loop to do next.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionRephrase Action = "rephrase"
	ActionEscalate Action = "escalate"
	ActionFail     Action = "fail"
)

var refusalPhrases = regexp.MustCompile(`(?i)\b(i (can't|cannot|won't|will not) (help|assist|do that)|i'm (not able|unable) to|as an ai( language model)?,? i)\b`)

// DetectRefusal reports whether raw text contains a refusal phrase.
func DetectRefusal(raw string) bool {
	return refusalPhrases.MatchString(raw)
}

// DetectTruncation reports whether raw looks like it was cut off mid-output:
// starts with { or [ without a matching close, or ends mid-word without
// terminal punctuation.
func DetectTruncation(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "{") && !balanced(trimmed, '{', '}') {
		return true
	}
	if strings.HasPrefix(trimmed, "[") && !balanced(trimmed, '[', ']') {
		return true
	}
	last := trimmed[len(trimmed)-1]
	endsOnWord := (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z') || (last >= '0' && last <= '9')
	return endsOnWord
}

func balanced(s string, open, close byte) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
		}
	}
	return depth == 0
}

// DetectEmpty reports whether raw is too short or, once parsed, has zero
// steps (the caller passes stepCount = -1 when JSON parsing hasn't
// happened yet).
func DetectEmpty(raw string, stepCount int) bool {
	return len(strings.TrimSpace(raw)) < 5 || stepCount == 0
}

// Budget tracks the attempt counters the FailureHandler enforces per the
// classification table: malformed JSON <=2, refusal <=1 then escalate,
// truncated <=1, empty <=1, plus the job-level replan/revision ceilings.
type Budget struct {
	MalformedAttempts int
	RefusalAttempts   int
	TruncatedAttempts int
	EmptyAttempts     int
	RevisionCycles    int
	Replans           int
}

// MaxMalformed, MaxRefusal, MaxTruncated, MaxEmpty mirror the table; the
// job-level ceilings are MaxRevisionCycles and MaxReplans.
const (
	MaxMalformed     = 2
	MaxRefusal       = 1
	MaxTruncated     = 1
	MaxEmpty         = 1
	MaxRevisionCycles = 3
	MaxReplans        = 2
)

// Classify decides the Action for a planning attempt given its symptom,
// the running Budget, and whether this plan's fingerprint repeats the
// last-rejected one.
func Classify(symptom Symptom, repetitive bool, b *Budget) Action {
	if repetitive {
		return ActionFail
	}
	if b.RevisionCycles >= MaxRevisionCycles || b.Replans >= MaxReplans {
		return ActionFail
	}

	switch symptom {
	case SymptomMalformed:
		b.MalformedAttempts++
		if b.MalformedAttempts > MaxMalformed {
			return ActionFail
		}
		return ActionRetry
	case SymptomRefusal:
		b.RefusalAttempts++
		if b.RefusalAttempts > MaxRefusal {
			return ActionEscalate
		}
		return ActionRephrase
	case SymptomTruncated:
		b.TruncatedAttempts++
		if b.TruncatedAttempts > MaxTruncated {
			return ActionFail
		}
		return ActionRetry
	case SymptomEmpty:
		b.EmptyAttempts++
		if b.EmptyAttempts > MaxEmpty {
			return ActionFail
		}
		return ActionRetry
	default:
		return ActionRetry
	}
}
