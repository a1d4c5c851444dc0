// Package scout drives the planning model: it has access to the capability
// catalogue, the user's message, and recent memories, and wraps every
// attempt with the FailureHandler classification table so malformed,
// refused, truncated, empty, or repetitive output never reaches the
// validator.
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/llm"
	"github.com/aegis-run/aegis/resilience"
)

// CapabilityEntry describes one gear available to the planner, surfaced in
// the planning system prompt.
type CapabilityEntry struct {
	Name        string
	Actions     []string
	Description string
}

// Request carries everything the planner needs for one planning attempt.
type Request struct {
	JobID      string
	UserMessage string
	Catalogue  []CapabilityEntry
	Memories   []string
	RevisionReason string // non-empty when re-planning after needs_revision
}

// Planner drives the planning model and applies the FailureHandler loop.
type Planner struct {
	Adapter llm.Adapter
	Model   string

	// RetryConfig governs the backoff between re-prompting the planner
	// after a retryable symptom (malformed/truncated/empty output or a
	// rephrase-eligible refusal). Defaults to resilience.DefaultRetryConfig
	// when nil.
	RetryConfig *resilience.RetryConfig
}

func (p *Planner) retryConfig() *resilience.RetryConfig {
	if p.RetryConfig != nil {
		return p.RetryConfig
	}
	return resilience.DefaultRetryConfig()
}

// backoff sleeps the exponential-backoff-with-jitter delay for this attempt
// before the planner loop re-prompts the model, returning early if ctx or
// signal fire first.
func (p *Planner) backoff(ctx context.Context, signal budget.Signal, attempt int, prevDelay time.Duration) time.Duration {
	cfg := p.retryConfig()
	delay := resilience.BackoffDelay(cfg, attempt, prevDelay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-signal.Done():
	case <-timer.C:
	}
	return delay
}

// planResponseJSON mirrors the JSON schema the planning system prompt
// requires the model to emit.
type planResponseJSON struct {
	Reasoning string `json:"reasoning"`
	Steps     []struct {
		ID            string         `json:"id"`
		Capability    string         `json:"capability"`
		Action        string         `json:"action"`
		Parameters    map[string]any `json:"parameters"`
		RiskLevel     string         `json:"riskLevel"`
		Description   string         `json:"description"`
		Dependencies  []string       `json:"dependencies"`
		ParallelGroup string         `json:"parallelGroup"`
		RollbackStep  string         `json:"rollbackStep"`
	} `json:"steps"`
}

// Plan runs the planner loop against req until it produces a usable plan,
// is told to escalate, or fails per the FailureHandler budget. lastRejected
// is the fingerprint of the previously-rejected plan, if any (empty on the
// first attempt).
func (p *Planner) Plan(ctx context.Context, req Request, lastRejected string, fb *Budget, signal budget.Signal) (*domain.ExecutionPlan, Action, error) {
	attempt := 0
	delay := p.retryConfig().InitialDelay
	for {
		raw, _, err := llm.Collect(ctx, p.Adapter, p.buildRequest(req), signal)
		if err != nil {
			return nil, ActionFail, err
		}

		if DetectRefusal(raw) {
			action := Classify(SymptomRefusal, false, fb)
			if action != ActionRephrase {
				return nil, action, domain.NewError("scout.Plan", domain.KindProvider, req.JobID, fmt.Errorf("planner refused"))
			}
			attempt++
			delay = p.backoff(ctx, signal, attempt, delay)
			continue
		}
		if DetectTruncation(raw) {
			action := Classify(SymptomTruncated, false, fb)
			if action != ActionRetry {
				return nil, action, domain.NewError("scout.Plan", domain.KindProvider, req.JobID, fmt.Errorf("planner output truncated"))
			}
			attempt++
			delay = p.backoff(ctx, signal, attempt, delay)
			continue
		}

		jsonText := extractJSON(raw)
		var parsed planResponseJSON
		if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
			action := Classify(SymptomMalformed, false, fb)
			if action != ActionRetry {
				return nil, action, domain.NewError("scout.Plan", domain.KindProvider, req.JobID, fmt.Errorf("malformed plan JSON: %w", err))
			}
			attempt++
			delay = p.backoff(ctx, signal, attempt, delay)
			continue
		}

		if DetectEmpty(raw, len(parsed.Steps)) {
			action := Classify(SymptomEmpty, false, fb)
			if action != ActionRetry {
				return nil, action, domain.NewError("scout.Plan", domain.KindProvider, req.JobID, fmt.Errorf("empty plan"))
			}
			attempt++
			delay = p.backoff(ctx, signal, attempt, delay)
			continue
		}

		plan := toPlan(req.JobID, parsed)
		fp := Fingerprint(plan)
		repetitive := lastRejected != "" && fp == lastRejected
		if repetitive {
			return nil, ActionFail, domain.NewError("scout.Plan", domain.KindProvider, req.JobID, fmt.Errorf("repetitive plan"))
		}

		return plan, "", nil
	}
}

func (p *Planner) buildRequest(req Request) llm.Request {
	var sb strings.Builder
	sb.WriteString("You are the planning model. Available capabilities:\n")
	for _, c := range req.Catalogue {
		sb.WriteString(fmt.Sprintf("- %s: actions=%v — %s\n", c.Name, c.Actions, c.Description))
	}
	if len(req.Memories) > 0 {
		sb.WriteString("\nRecent relevant memories:\n")
		for _, m := range req.Memories {
			sb.WriteString("- " + m + "\n")
		}
	}
	sb.WriteString("\nRespond with strict JSON: {\"reasoning\":...,\"steps\":[{\"id\",\"capability\",\"action\",\"parameters\",\"riskLevel\",...}]}.")
	if req.RevisionReason != "" {
		sb.WriteString("\nThe previous plan was rejected: " + req.RevisionReason)
	}

	return llm.Request{
		Model: p.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: sb.String()},
			{Role: llm.RoleUser, Content: req.UserMessage},
		},
		Temperature: 0.3,
		MaxTokens:   4096,
	}
}

func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

func toPlan(jobID string, parsed planResponseJSON) *domain.ExecutionPlan {
	steps := make([]domain.ExecutionStep, 0, len(parsed.Steps))
	for i, s := range parsed.Steps {
		steps = append(steps, domain.ExecutionStep{
			ID:           s.ID,
			Capability:   s.Capability,
			Action:       s.Action,
			Parameters:   s.Parameters,
			RiskLevel:    domain.RiskLevel(s.RiskLevel),
			Description:  s.Description,
			Order:        i,
			Dependencies: s.Dependencies,
			ParallelGroup: s.ParallelGroup,
			RollbackStep:  s.RollbackStep,
		})
	}
	return &domain.ExecutionPlan{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Reasoning: parsed.Reasoning,
		Steps:     steps,
	}
}
