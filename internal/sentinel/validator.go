// Package sentinel drives the validator model. Its entire input surface is
// the stripped plan plus the immutable system prompt: this is the
// information barrier invariant, and nothing in this package may widen it
// (no access to the user message, conversation history, memories, or
// capability catalogue).
package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/llm"
	"github.com/aegis-run/aegis/internal/planstrip"
)

// systemPromptVersion names the revision of systemPrompt. Nothing in this
// package logs or returns it.
const systemPromptVersion = "v1"

const systemPrompt = `You are the plan validator, a safety reviewer operating under a strict information barrier.

Your entire input is the plan below and this system prompt. You never see the
original user message, conversation history, stored memories, or the full
capability catalogue. Evaluate the plan purely on what it contains.

Hard-floor policies — these ALWAYS require human approval regardless of your
own risk assessment: file deletion, shell execution, financial transactions,
and system configuration changes.

Categories for per-step concerns: security, privacy, financial, policy,
composite, ethical, legal.

Respond with strict JSON only, matching this schema:
{
  "verdict": "approved" | "rejected" | "needs_user_approval" | "needs_revision",
  "overallRisk": "low" | "medium" | "high" | "critical",
  "reasoning": "string",
  "stepVerdicts": [{"stepId": "string", "category": "string", "reasoning": "string"}],
  "suggestedRevisions": "string (optional)"
}`

// Request carries what the Validator needs for one validation call.
type Request struct {
	Plan               *domain.ExecutionPlan
	Model              string
	PlannerModel       string // for the same-provider/model warning
	Temperature        float32 // default 0.1
	MaxTokens          int     // default 4096
}

// Validator drives the validator model.
type Validator struct {
	Adapter llm.Adapter
	Logger  interface {
		Warn(msg string, fields map[string]interface{})
	}
}

type validationResponseJSON struct {
	Verdict      string `json:"verdict"`
	OverallRisk  string `json:"overallRisk"`
	Reasoning    string `json:"reasoning"`
	StepVerdicts []struct {
		StepID    string `json:"stepId"`
		Category  string `json:"category"`
		Reasoning string `json:"reasoning"`
	} `json:"stepVerdicts"`
	SuggestedRevisions string `json:"suggestedRevisions"`
}

var validVerdicts = map[string]bool{
	string(domain.VerdictApproved): true, string(domain.VerdictRejected): true,
	string(domain.VerdictNeedsUserApproval): true, string(domain.VerdictNeedsRevision): true,
}
var validRisks = map[string]bool{
	string(domain.RiskLow): true, string(domain.RiskMedium): true,
	string(domain.RiskHigh): true, string(domain.RiskCritical): true,
}
var validCategories = map[string]bool{
	string(domain.CategorySecurity): true, string(domain.CategoryPrivacy): true,
	string(domain.CategoryFinancial): true, string(domain.CategoryPolicy): true,
	string(domain.CategoryComposite): true, string(domain.CategoryEthical): true,
	string(domain.CategoryLegal): true,
}

// Validate strips the plan, builds the fixed system prompt plus the
// stripped plan as the only user content, calls the model, and parses a
// strict-schema verdict.
func (v *Validator) Validate(ctx context.Context, req Request, signal budget.Signal) (*domain.ValidationResult, error) {
	if req.Model != "" && req.PlannerModel != "" && req.Model == req.PlannerModel && v.Logger != nil {
		v.Logger.Warn("validator and planner share the same model identity", map[string]interface{}{
			"model": req.Model,
		})
	}

	stripped := planstrip.Strip(req.Plan)
	strippedJSON, err := json.Marshal(stripped)
	if err != nil {
		return nil, domain.NewError("sentinel.Validate", domain.KindInternal, req.Plan.ID, err)
	}

	temp := req.Temperature
	if temp == 0 {
		temp = 0.1
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	llmReq := llm.Request{
		Model:       req.Model,
		Temperature: temp,
		MaxTokens:   maxTokens,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: string(strippedJSON)},
		},
	}

	raw, _, err := llm.Collect(ctx, v.Adapter, llmReq, signal)
	if err != nil {
		return nil, domain.NewError("sentinel.Validate", domain.KindProvider, req.Plan.ID, err)
	}

	jsonText := extractJSON(raw)
	var parsed validationResponseJSON
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		excerpt := jsonText
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return nil, domain.NewError("sentinel.Validate", domain.KindProvider, req.Plan.ID,
			fmt.Errorf("malformed validator response, excerpt=%q: %w", excerpt, err))
	}

	if err := validate(parsed); err != nil {
		return nil, domain.NewError("sentinel.Validate", domain.KindProvider, req.Plan.ID, err)
	}

	result := &domain.ValidationResult{
		Verdict:            domain.Verdict(parsed.Verdict),
		OverallRisk:        domain.RiskLevel(parsed.OverallRisk),
		Reasoning:          parsed.Reasoning,
		SuggestedRevisions: parsed.SuggestedRevisions,
	}
	for _, sv := range parsed.StepVerdicts {
		result.StepVerdicts = append(result.StepVerdicts, domain.StepVerdict{
			StepID: sv.StepID, Category: domain.Category(sv.Category), Reasoning: sv.Reasoning,
		})
	}
	return result, nil
}

func validate(p validationResponseJSON) error {
	if !validVerdicts[p.Verdict] {
		return fmt.Errorf("invalid verdict %q", p.Verdict)
	}
	if !validRisks[p.OverallRisk] {
		return fmt.Errorf("invalid overallRisk %q", p.OverallRisk)
	}
	for _, sv := range p.StepVerdicts {
		if sv.Category != "" && !validCategories[sv.Category] {
			return fmt.Errorf("invalid step category %q", sv.Category)
		}
	}
	return nil
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
