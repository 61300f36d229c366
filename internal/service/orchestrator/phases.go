package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
)

// runPreparation verifies that the dependent registries are populated and
// records the rule id lists the later phases will draw from.
func (o *Orchestrator) runPreparation(_ context.Context, _ *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	regulationIDs := o.engine.RuleIDs()
	validationIDs := o.validator.RuleIDs()

	outcome := &phaseOutcome{
		RuleIDs: append(append([]string{}, regulationIDs...), validationIDs...),
	}
	if len(regulationIDs) == 0 && len(validationIDs) == 0 {
		outcome.Issues = append(outcome.Issues, workflow.ExecutionIssue{
			Type:     "empty_registries",
			Severity: string(validation.SeverityMedium),
			Message:  "no regulation or validation rules are registered",
			Source:   string(workflow.PhasePreparation),
		})
	}
	return outcome, nil
}

// runRegulationEnforcement maps the workflow context into a regulation
// context and enforces the workflow's configured regulation types.
func (o *Orchestrator) runRegulationEnforcement(ctx context.Context, def *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	rctx := &regulation.Context{
		ContextID:   exec.Context.ContextID,
		ServiceRole: exec.Context.ServiceRole,
		ServiceName: exec.Context.ServiceName,
		Operation:   exec.Context.Operation,
		Data:        exec.Context.Data,
		Metadata:    exec.Context.Metadata,
		Timestamp:   o.clock.Now(),
	}

	results, err := o.engine.EnforceRegulations(ctx, rctx, def.RegulationTypes...)
	if err != nil {
		return nil, err
	}

	outcome := &phaseOutcome{}
	sum := 0.0
	for _, result := range results {
		sum += result.Score
		outcome.RuleIDs = append(outcome.RuleIDs, result.RuleID)
		for _, v := range result.Violations {
			outcome.Issues = append(outcome.Issues, workflow.ExecutionIssue{
				Type:     "compliance_violation",
				Severity: string(v.Severity),
				Message:  v.Message,
				Source:   v.RuleID,
			})
		}
	}
	if len(results) > 0 {
		score := sum / float64(len(results))
		outcome.Score = &score
	}
	return outcome, nil
}

// runCrossRoleValidation maps the workflow context into a handoff context
// (source = the context's role, target = the first declared target service
// role) and runs the validator for the workflow's configured phases.
func (o *Orchestrator) runCrossRoleValidation(ctx context.Context, def *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	target := regulation.RoleAPP
	if len(exec.Context.TargetServices) > 0 {
		target = regulation.ServiceRole(exec.Context.TargetServices[0])
	}

	phases := def.ValidationPhases
	if len(phases) == 0 {
		phases = []validation.Phase{""}
	}

	outcome := &phaseOutcome{}
	sum, counted := 0.0, 0
	for _, phase := range phases {
		vctx := &validation.Context{
			ContextID:  exec.Context.ContextID,
			SourceRole: exec.Context.ServiceRole,
			TargetRole: target,
			Phase:      phase,
			Data:       exec.Context.Data,
			Metadata:   exec.Context.Metadata,
			Timestamp:  o.clock.Now(),
		}
		result, err := o.validator.ValidateCrossRoleData(ctx, vctx)
		if err != nil {
			return nil, err
		}
		if result.RulesChecked > 0 {
			sum += result.Score
			counted++
		}
		for _, issue := range result.Issues {
			outcome.Issues = append(outcome.Issues, workflow.ExecutionIssue{
				Type:     issue.Type,
				Severity: string(issue.Severity),
				Message:  issue.Message,
				Source:   issue.RuleID,
				Field:    issue.Field,
			})
		}
	}
	if counted > 0 {
		score := sum / float64(counted)
		outcome.Score = &score
	}
	return outcome, nil
}

// runAuditTrailGeneration snapshots the execution so far into a checksummed
// trail record and persists it.
func (o *Orchestrator) runAuditTrailGeneration(ctx context.Context, _ *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	phases := make([]workflow.Phase, 0, len(exec.PhaseResults))
	issueCount := 0
	score, counted := 0.0, 0
	for _, pr := range exec.PhaseResults {
		phases = append(phases, pr.Phase)
		issueCount += len(pr.Issues)
		if pr.Score != nil {
			score += *pr.Score
			counted++
		}
	}
	if counted > 0 {
		score /= float64(counted)
	}

	snapshot := &workflow.TrailSnapshot{
		SnapshotID:  o.ids.NewID(),
		ExecutionID: exec.ExecutionID,
		WorkflowID:  exec.WorkflowID,
		ContextID:   exec.Context.ContextID,
		Phases:      phases,
		Score:       score,
		IssueCount:  issueCount,
		CreatedAt:   o.clock.Now(),
	}
	snapshot.Checksum = snapshotChecksum(snapshot)

	if err := o.store.SaveTrailSnapshot(ctx, snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to persist trail snapshot")
	}
	return &phaseOutcome{}, nil
}

// snapshotChecksum hashes the snapshot's identifying fields over canonical
// JSON. Map key ordering is stable under encoding/json, so the digest is
// reproducible.
func snapshotChecksum(s *workflow.TrailSnapshot) string {
	payload := map[string]interface{}{
		"execution_id": s.ExecutionID,
		"workflow_id":  s.WorkflowID,
		"context_id":   s.ContextID,
		"phases":       s.Phases,
		"score":        s.Score,
		"issue_count":  s.IssueCount,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// runReporting assembles and persists the typed compliance report for the
// execution so far.
func (o *Orchestrator) runReporting(ctx context.Context, _ *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	report := &workflow.Report{
		ReportID:    o.ids.NewID(),
		ExecutionID: exec.ExecutionID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		GeneratedAt: o.clock.Now(),
	}

	sum, counted := 0.0, 0
	for _, pr := range exec.PhaseResults {
		report.PhaseSummaries = append(report.PhaseSummaries, workflow.PhaseSummary{
			Phase:      pr.Phase,
			Status:     pr.Status,
			Score:      pr.Score,
			IssueCount: len(pr.Issues),
		})
		report.TotalIssues += len(pr.Issues)
		for _, issue := range pr.Issues {
			if issue.Severity == string(validation.SeverityCritical) {
				report.CriticalIssues++
			}
		}
		if pr.Score != nil {
			sum += *pr.Score
			counted++
		}
	}
	if counted > 0 {
		report.OverallScore = sum / float64(counted)
	}

	if err := o.store.SaveReport(ctx, report); err != nil {
		return nil, errors.Wrap(err, "failed to persist compliance report")
	}
	return &phaseOutcome{}, nil
}

// runRemediation partitions accumulated issues into automatic fixes (field
// presence and format problems, applied and marked completed) and manual
// items (scheduled only).
func (o *Orchestrator) runRemediation(_ context.Context, _ *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error) {
	plan := &workflow.RemediationPlan{
		PlanID:      o.ids.NewID(),
		ExecutionID: exec.ExecutionID,
		CreatedAt:   o.clock.Now(),
	}

	for _, pr := range exec.PhaseResults {
		for _, issue := range pr.Issues {
			item := workflow.RemediationItem{
				IssueType: issue.Type,
				Message:   issue.Message,
				Field:     issue.Field,
			}
			switch issue.Type {
			case validation.IssueFieldMissing, validation.IssueFieldFormat:
				item.Status = "completed"
				plan.Automatic = append(plan.Automatic, item)
			default:
				item.Status = "scheduled"
				plan.Manual = append(plan.Manual, item)
			}
		}
	}

	o.logger.Info("remediation plan assembled",
		zap.String("execution_id", exec.ExecutionID),
		zap.Int("automatic", len(plan.Automatic)),
		zap.Int("manual", len(plan.Manual)))
	return &phaseOutcome{Remediation: plan}, nil
}
