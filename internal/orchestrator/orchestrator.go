// Package orchestrator implements JobOrchestrator: the per-job state
// machine that drives a claimed job through planning, validation, an
// optional human approval gate, and execution, recording every step in the
// idempotency log so a crash mid-job can resume without re-running
// completed work.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/gear"
	"github.com/aegis-run/aegis/internal/journal"
	"github.com/aegis-run/aegis/internal/router"
	"github.com/aegis-run/aegis/internal/scout"
	"github.com/aegis-run/aegis/internal/sentinel"
)

// ApprovalWaiter lets the awaiting_approval state suspend until a human
// responds or the job budget expires. Implementations live in gatewayapi
// (backed by the nonce-gated HTTP endpoint).
type ApprovalWaiter interface {
	// Wait blocks until an approve/reject decision arrives for jobID, or
	// signal fires (job budget expired / cancellation).
	Wait(jobID string, signal budget.Signal) (approved bool, err error)
}

// Config bundles the model names, capability catalogue and memory source
// the orchestrator needs to drive one job; phase timeouts come from
// budget.DefaultJobBudget. Planner/Validator models are distinct on
// purpose: the dual-LLM arrangement is load-bearing.
type Config struct {
	PlannerModel   string
	ValidatorModel string
	Catalogue      []scout.CapabilityEntry
	Memories       func(jobID string) []string
}

// Orchestrator drives jobs through the state machine described in §4.10.
type Orchestrator struct {
	Planner   *scout.Planner
	Validator *sentinel.Validator
	Router    *router.Router
	Journal   journal.Store
	Approvals ApprovalWaiter
	Logger    core.Logger
	Config    Config
}

// Run drives job from whatever state it was claimed in through to a
// terminal status. It returns the terminal status, result, and error for
// the caller (the worker pool) to release the job with.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (domain.Status, any, *domain.RuntimeError) {
	jb := budget.DefaultJobBudget(nil)
	signal := budget.FromContext(ctx)

	fb := &scout.Budget{}
	var lastRejected string

planning:
	for {
		job.Status = domain.StatusPlanning
		plan, action, err := o.plan(ctx, job, jb, signal, lastRejected, fb)
		if err != nil {
			if action == "" {
				action = scout.ActionFail
			}
			switch action {
			case scout.ActionEscalate:
				return domain.StatusAwaitingApproval, nil, asRuntimeError(err)
			default:
				return domain.StatusFailed, nil, asRuntimeError(err)
			}
		}
		job.Plan = plan

		job.Status = domain.StatusValidating
		verdict, err := o.validate(ctx, job, jb, signal)
		if err != nil {
			return domain.StatusFailed, nil, asRuntimeError(err)
		}
		job.Validation = verdict

		switch verdict.Verdict {
		case domain.VerdictNeedsRevision:
			lastRejected = scout.Fingerprint(plan)
			fb.RevisionCycles++
			continue planning
		case domain.VerdictRejected:
			return domain.StatusFailed, nil, domain.NewError("orchestrator.Run", domain.KindValidation, job.ID,
				fmt.Errorf("validation-rejected: %s", verdict.Reasoning))
		case domain.VerdictNeedsUserApproval:
			job.Status = domain.StatusAwaitingApproval
			job.ApprovalNonce = uuid.NewString()
			if o.Approvals == nil {
				return domain.StatusAwaitingApproval, nil, nil
			}
			approved, err := o.Approvals.Wait(job.ID, signal)
			if err != nil {
				return domain.StatusFailed, nil, domain.NewError("orchestrator.Run", domain.KindCancelled, job.ID, err)
			}
			if !approved {
				return domain.StatusFailed, nil, domain.NewError("orchestrator.Run", domain.KindValidation, job.ID,
					fmt.Errorf("approval rejected"))
			}
		case domain.VerdictApproved:
			// fall through to execution
		}
		break
	}

	job.Status = domain.StatusExecuting
	result, sideEffects, err := o.execute(ctx, job, jb, signal)
	job.SideEffects = sideEffects
	if err != nil {
		return domain.StatusFailed, nil, asRuntimeError(err)
	}
	return domain.StatusCompleted, result, nil
}

func (o *Orchestrator) plan(ctx context.Context, job *domain.Job, jb *budget.JobBudget, parent budget.Signal, lastRejected string, fb *scout.Budget) (*domain.ExecutionPlan, scout.Action, error) {
	phaseBudget, err := jb.PhaseBudget("planning", jb.Planning)
	if err != nil {
		return nil, scout.ActionFail, err
	}
	composite, cleanup := budget.CreateCompositeSignal(phaseBudget.Remaining(), parent)
	defer cleanup()

	var memories []string
	if o.Config.Memories != nil {
		memories = o.Config.Memories(job.ID)
	}

	req := scout.Request{
		JobID: job.ID, UserMessage: job.Request,
		Catalogue: o.Config.Catalogue, Memories: memories,
	}
	if lastRejected != "" && job.Validation != nil {
		req.RevisionReason = job.Validation.Reasoning
	}
	fb.Replans++
	return o.Planner.Plan(ctx, req, lastRejected, fb, composite)
}

func (o *Orchestrator) validate(ctx context.Context, job *domain.Job, jb *budget.JobBudget, parent budget.Signal) (*domain.ValidationResult, error) {
	phaseBudget, err := jb.PhaseBudget("validation", jb.Validation)
	if err != nil {
		return nil, err
	}
	composite, cleanup := budget.CreateCompositeSignal(phaseBudget.Remaining(), parent)
	defer cleanup()

	return o.Validator.Validate(ctx, sentinel.Request{
		Plan: job.Plan, Model: o.Config.ValidatorModel, PlannerModel: o.Config.PlannerModel,
	}, composite)
}

func (o *Orchestrator) execute(ctx context.Context, job *domain.Job, jb *budget.JobBudget, parent budget.Signal) (any, []string, error) {
	results := map[string]any{}
	var sideEffects []string

	for _, step := range orderSteps(job.Plan.Steps) {
		if step.Conditional != nil && !evalConditional(step.Conditional, results) {
			results[step.ID] = map[string]any{"status": "skipped"}
			continue
		}

		outcome, err := o.Journal.Check(job.ID, step.ID)
		if err != nil {
			return nil, sideEffects, err
		}
		if outcome.Cached {
			results[step.ID] = map[string]any{"status": "completed", "result": outcome.Result}
			sideEffects = append(sideEffects, step.ID)
			continue
		}

		stepBudget, err := jb.PhaseBudget("step:"+step.ID, jb.Step)
		if err != nil {
			_ = o.Journal.RecordFailure(outcome.Key)
			return nil, sideEffects, err
		}
		composite, cleanup := budget.CreateCompositeSignal(stepBudget.Remaining(), parent)

		msg := &domain.Message{
			ID:            uuid.NewString(),
			CorrelationID: uuid.NewString(),
			From:          "scout",
			To:            "gear:" + step.Capability,
			Type:          domain.MsgExecuteRequest,
			JobID:         job.ID,
			Payload: gear.Request{
				Capability: step.Capability, Action: step.Action,
				Parameters: step.Parameters, StepID: step.ID,
			},
		}

		resp, dispatchErr := o.Router.Dispatch(composite.Context(), msg)
		cleanup()

		if dispatchErr != nil || (resp != nil && resp.Type == domain.MsgError) {
			_ = o.Journal.RecordFailure(outcome.Key)
			if dispatchErr != nil {
				return nil, sideEffects, dispatchErr
			}
			payload, _ := resp.Payload.(domain.ErrorPayload)
			return nil, sideEffects, domain.NewError("orchestrator.execute", domain.Kind(payload.Code), step.ID,
				fmt.Errorf("%s", payload.Message))
		}

		gearResp, _ := resp.Payload.(gear.Response)
		if err := o.Journal.RecordCompletion(outcome.Key, gearResp.Result); err != nil {
			return nil, sideEffects, err
		}
		results[step.ID] = map[string]any{"status": "completed", "result": gearResp.Result}
		sideEffects = append(sideEffects, step.ID)
	}

	return results, sideEffects, nil
}

func asRuntimeError(err error) *domain.RuntimeError {
	if re, ok := err.(*domain.RuntimeError); ok {
		return re
	}
	return domain.NewError("orchestrator.Run", domain.KindInternal, "", err)
}
