package coordination

import (
	"context"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/audit"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
	auditorsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/auditor"
	orchestratorsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/orchestrator"
	regulatorysvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulatory"
	validationsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/validation"
)

// Service is the coordination facade. It drives the orchestrator and the
// cross-role validator for the two entry-point use cases and feeds the
// outcomes to the audit coordinator and the regulatory tracker independently:
// a failure in either side channel never fails the compliance judgment.
type Service struct {
	logger       *zap.Logger
	orchestrator *orchestratorsvc.Orchestrator
	validator    *validationsvc.Validator
	auditor      *auditorsvc.Coordinator
	tracker      *regulatorysvc.Tracker
	clock        clock.Clock
}

// Option configures the coordination service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates the coordination facade.
func NewService(
	logger *zap.Logger,
	orch *orchestratorsvc.Orchestrator,
	validator *validationsvc.Validator,
	aud *auditorsvc.Coordinator,
	tracker *regulatorysvc.Tracker,
	opts ...Option,
) *Service {
	s := &Service{
		logger:       logger,
		orchestrator: orch,
		validator:    validator,
		auditor:      aud,
		tracker:      tracker,
		clock:        clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckRequest is the input for a comprehensive compliance check.
type CheckRequest struct {
	ContextID      string
	ServiceRole    regulation.ServiceRole
	ServiceName    string
	Operation      string
	TargetServices []string
	Data           map[string]interface{}
	Metadata       map[string]interface{}

	// Organization whose FIRS grant milestones should be refreshed after the
	// check. Empty skips milestone bookkeeping.
	OrganizationID string
}

// CheckResult bundles the workflow execution with its audit session outcome.
type CheckResult struct {
	Execution       *workflow.Execution    `json:"execution"`
	AuditSessionID  string                 `json:"audit_session_id"`
	AuditStatus     audit.ComplianceStatus `json:"audit_status"`
	MilestoneStatus []MilestoneDigest      `json:"milestone_status,omitempty"`
}

// MilestoneDigest is the per-milestone summary returned with a check.
type MilestoneDigest struct {
	Milestone int     `json:"milestone"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
}

// RunComprehensiveComplianceCheck opens an audit session, runs the full
// compliance workflow, records the outcome into the session's trail, and
// refreshes the organization's grant milestones. Audit and tracker failures
// are logged only; the execution outcome stands on its own.
func (s *Service) RunComprehensiveComplianceCheck(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if req.ServiceName == "" {
		return nil, errors.NewValidationError("MISSING_SERVICE_NAME", "service name is required")
	}
	if req.ServiceRole == "" {
		return nil, errors.NewValidationError("MISSING_SERVICE_ROLE", "service role is required")
	}

	session, err := s.auditor.InitiateAuditSession(ctx, auditorsvc.SessionRequest{
		Type:           audit.ComplianceAudit,
		Scope:          audit.ScopeSystemWide,
		Initiator:      "coordination_service",
		TargetServices: req.TargetServices,
		Objectives:     []string{"comprehensive compliance check for " + req.ServiceName},
	})
	if err != nil {
		s.logger.Error("failed to open audit session for compliance check",
			zap.String("service", req.ServiceName), zap.Error(err))
	}

	exec, err := s.orchestrator.ExecuteFullComplianceCheck(ctx, &workflow.Context{
		ContextID:      req.ContextID,
		ServiceRole:    req.ServiceRole,
		ServiceName:    req.ServiceName,
		Operation:      req.Operation,
		TargetServices: req.TargetServices,
		Data:           req.Data,
		Metadata:       req.Metadata,
		Timestamp:      s.clock.Now(),
	})
	if err != nil {
		if session != nil {
			s.auditor.CancelAuditSession(ctx, session.AuditID, "compliance check could not start")
		}
		return nil, err
	}

	result := &CheckResult{Execution: exec}
	if session != nil {
		result.AuditSessionID = session.AuditID
		s.recordExecutionAudit(ctx, session.AuditID, req, exec)
		completed, err := s.auditor.CompleteAuditSession(ctx, session.AuditID,
			executionFindings(exec), executionRecommendations(exec))
		if err != nil {
			s.logger.Error("failed to complete audit session",
				zap.String("session_id", session.AuditID), zap.Error(err))
		} else {
			result.AuditStatus = audit.DeriveComplianceStatus(completed.Findings)
		}
	}

	if req.OrganizationID != "" {
		statuses, err := s.tracker.MonitorMilestoneRequirements(ctx, req.OrganizationID)
		if err != nil {
			s.logger.Error("milestone refresh failed after compliance check",
				zap.String("organization_id", req.OrganizationID), zap.Error(err))
		} else {
			for _, ms := range statuses {
				result.MilestoneStatus = append(result.MilestoneStatus, MilestoneDigest{
					Milestone: ms.Milestone,
					Progress:  ms.ProgressPercentage,
					Status:    string(ms.Status),
				})
			}
		}
	}

	s.logger.Info("comprehensive compliance check finished",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("status", string(exec.Status)),
		zap.Float64("score", exec.OverallScore),
		zap.String("audit_session_id", result.AuditSessionID))
	return result, nil
}

// recordExecutionAudit logs the compliance-check outcome into the audit
// stream. A failed execution carries details.status=failed, which the audit
// coordinator's auto-trigger rules turn into a follow-up audit.
func (s *Service) recordExecutionAudit(ctx context.Context, sessionID string, req CheckRequest, exec *workflow.Execution) {
	if _, err := s.auditor.LogAuditEvent(ctx, &audit.Event{
		Type:        audit.EventComplianceCheck,
		ServiceRole: req.ServiceRole,
		ServiceName: req.ServiceName,
		Action:      "comprehensive_compliance_check",
		Resource:    exec.ExecutionID,
		Details: map[string]interface{}{
			"status":          executionStatusLabel(exec.Status),
			"workflow_id":     exec.WorkflowID,
			"overall_score":   exec.OverallScore,
			"total_issues":    exec.TotalIssues,
			"critical_issues": exec.CriticalIssues,
		},
		SessionID: sessionID,
	}); err != nil {
		s.logger.Error("failed to record compliance check audit event",
			zap.String("execution_id", exec.ExecutionID), zap.Error(err))
	}
}

// executionStatusLabel collapses the execution status to the audit detail
// vocabulary the auto-trigger rules key on.
func executionStatusLabel(status workflow.ExecutionStatus) string {
	switch status {
	case workflow.StatusCompleted:
		return "passed"
	case workflow.StatusFailed:
		return "failed"
	default:
		return string(status)
	}
}

// executionFindings converts execution issues into audit findings.
func executionFindings(exec *workflow.Execution) []audit.Finding {
	var findings []audit.Finding
	for _, pr := range exec.PhaseResults {
		for _, issue := range pr.Issues {
			findings = append(findings, audit.Finding{
				Severity:    findingSeverity(issue.Severity),
				Title:       issue.Type,
				Description: issue.Message,
				Evidence:    []string{"phase: " + string(pr.Phase)},
			})
		}
	}
	return findings
}

func executionRecommendations(exec *workflow.Execution) []string {
	if exec.Status == workflow.StatusCompleted {
		return nil
	}
	return []string{"review execution " + exec.ExecutionID + " phase results"}
}

func findingSeverity(severity string) audit.FindingSeverity {
	switch validation.Severity(severity) {
	case validation.SeverityCritical:
		return audit.FindingCritical
	case validation.SeverityHigh:
		return audit.FindingHigh
	case validation.SeverityMedium:
		return audit.FindingMedium
	case validation.SeverityLow:
		return audit.FindingLow
	default:
		return audit.FindingInfo
	}
}

// HandoffRequest is the input for a cross-role handoff validation.
type HandoffRequest struct {
	ContextID   string
	SourceRole  regulation.ServiceRole
	TargetRole  regulation.ServiceRole
	ServiceName string
	Phase       validation.Phase
	Data        map[string]interface{}
	Metadata    map[string]interface{}
}

// ValidateCrossRoleHandoff runs the cross-role validator over a handoff
// payload and records the outcome as an audit event. A failed handoff feeds
// the audit coordinator's auto-trigger path the same way a failed workflow
// does.
func (s *Service) ValidateCrossRoleHandoff(ctx context.Context, req HandoffRequest) (*validation.Result, error) {
	if req.SourceRole == "" {
		return nil, errors.NewValidationError("MISSING_SOURCE_ROLE", "source role is required")
	}
	if req.TargetRole == "" {
		req.TargetRole = regulation.RoleAPP
	}
	if req.Phase == "" {
		req.Phase = validation.PhaseHandoff
	}

	result, err := s.validator.ValidateCrossRoleData(ctx, &validation.Context{
		ContextID:  req.ContextID,
		SourceRole: req.SourceRole,
		TargetRole: req.TargetRole,
		Phase:      req.Phase,
		Data:       req.Data,
		Metadata:   req.Metadata,
		Timestamp:  s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	status := "passed"
	if result.Status == validation.StatusFailed {
		status = "failed"
	}
	if _, err := s.auditor.LogAuditEvent(ctx, &audit.Event{
		Type:        audit.EventComplianceCheck,
		ServiceRole: req.SourceRole,
		ServiceName: req.ServiceName,
		Action:      "cross_role_handoff_validation",
		Resource:    result.ValidationID,
		Details: map[string]interface{}{
			"status":      status,
			"score":       result.Score,
			"issue_count": len(result.Issues),
			"source_role": string(req.SourceRole),
			"target_role": string(req.TargetRole),
		},
	}); err != nil {
		s.logger.Error("failed to record handoff audit event",
			zap.String("validation_id", result.ValidationID), zap.Error(err))
	}
	return result, nil
}
