package workflow

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
)

// Phase is one step of a compliance workflow
type Phase string

const (
	PhasePreparation           Phase = "preparation"
	PhaseRegulationEnforcement Phase = "regulation_enforcement"
	PhaseCrossRoleValidation   Phase = "cross_role_validation"
	PhaseAuditTrailGeneration  Phase = "audit_trail_generation"
	PhaseReporting             Phase = "reporting"
	PhaseRemediation           Phase = "remediation"
)

// Priority ranks a workflow run
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// RetryPolicy controls how the orchestrator reacts to phase failures.
// MaxRetries is declarative only at present.
type RetryPolicy struct {
	MaxRetries    int  `json:"max_retries"`
	StopOnFailure bool `json:"stop_on_failure"`
}

// Definition is a named ordered sequence of compliance phases plus the
// regulation types and validation phases it invokes. Timeout is a declared
// SLA, not actively enforced.
type Definition struct {
	WorkflowID       string                      `json:"workflow_id"`
	Name             string                      `json:"name"`
	Description      string                      `json:"description,omitempty"`
	Phases           []Phase                     `json:"phases"`
	RegulationTypes  []regulation.RegulationType `json:"regulation_types,omitempty"`
	ValidationPhases []validation.Phase          `json:"validation_phases,omitempty"`
	Priority         Priority                    `json:"priority"`
	Timeout          time.Duration               `json:"timeout"`
	RetryPolicy      RetryPolicy                 `json:"retry_policy"`
}

// Validate checks the definition's structural invariants.
func (d *Definition) Validate() error {
	if d.WorkflowID == "" {
		return errors.NewValidationError("MISSING_WORKFLOW_ID", "workflow id is required")
	}
	if d.Name == "" {
		return errors.NewValidationError("MISSING_WORKFLOW_NAME", "workflow name is required")
	}
	if len(d.Phases) == 0 {
		return errors.NewValidationError("MISSING_PHASES", "workflow must declare at least one phase")
	}
	return nil
}

// Context carries the data a workflow run operates on.
type Context struct {
	ContextID      string                 `json:"context_id"`
	ServiceRole    regulation.ServiceRole `json:"service_role"`
	ServiceName    string                 `json:"service_name"`
	Operation      string                 `json:"operation"`
	TargetServices []string               `json:"target_services,omitempty"`
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Priority       Priority               `json:"priority"`
	Timestamp      time.Time              `json:"timestamp"`
}

// ExecutionStatus tracks an execution through its lifecycle. Transitions only
// move forward; terminal states are absorbing.
type ExecutionStatus string

const (
	StatusPending            ExecutionStatus = "pending"
	StatusRunning            ExecutionStatus = "running"
	StatusCompleted          ExecutionStatus = "completed"
	StatusFailed             ExecutionStatus = "failed"
	StatusCancelled          ExecutionStatus = "cancelled"
	StatusPartiallyCompleted ExecutionStatus = "partially_completed"
)

// IsTerminal reports whether the status is absorbing.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// PhaseStatus is the per-phase outcome within an execution
type PhaseStatus string

const (
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// ExecutionIssue is one finding accumulated during an execution.
type ExecutionIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
	Field    string `json:"field,omitempty"`
}

// PhaseResult is the recorded outcome of one phase handler.
type PhaseResult struct {
	Phase       Phase            `json:"phase"`
	Status      PhaseStatus      `json:"status"`
	Score       *float64         `json:"score,omitempty"`
	Issues      []ExecutionIssue `json:"issues,omitempty"`
	RuleIDs     []string         `json:"rule_ids,omitempty"`
	Remediation *RemediationPlan `json:"remediation,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Execution is one run of a workflow definition. Once terminal it moves from
// the active map into history and is immutable thereafter.
type Execution struct {
	ExecutionID    string          `json:"execution_id"`
	WorkflowID     string          `json:"workflow_id"`
	Context        Context         `json:"context"`
	Status         ExecutionStatus `json:"status"`
	PhaseResults   []PhaseResult   `json:"phase_results"`
	OverallScore   float64         `json:"overall_score"`
	TotalIssues    int             `json:"total_issues"`
	CriticalIssues int             `json:"critical_issues"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Duration       float64         `json:"duration_seconds"`
}

// Report is the typed compliance report assembled by the reporting phase.
type Report struct {
	ReportID       string          `json:"report_id"`
	ExecutionID    string          `json:"execution_id"`
	WorkflowID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	OverallScore   float64         `json:"overall_score"`
	TotalIssues    int             `json:"total_issues"`
	CriticalIssues int             `json:"critical_issues"`
	PhaseSummaries []PhaseSummary  `json:"phase_summaries"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// PhaseSummary is the per-phase line item in a compliance report.
type PhaseSummary struct {
	Phase      Phase       `json:"phase"`
	Status     PhaseStatus `json:"status"`
	Score      *float64    `json:"score,omitempty"`
	IssueCount int         `json:"issue_count"`
}

// TrailSnapshot is the audit-trail record the audit_trail_generation phase
// persists, checksummed over the execution's identifying fields.
type TrailSnapshot struct {
	SnapshotID  string    `json:"snapshot_id"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	ContextID   string    `json:"context_id"`
	Phases      []Phase   `json:"phases"`
	Score       float64   `json:"score"`
	IssueCount  int       `json:"issue_count"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}

// RemediationPlan is the remediation phase's output: automatic fixes are
// applied and marked completed, manual items are scheduled only.
type RemediationPlan struct {
	PlanID      string            `json:"plan_id"`
	ExecutionID string            `json:"execution_id"`
	Automatic   []RemediationItem `json:"automatic"`
	Manual      []RemediationItem `json:"manual"`
	CreatedAt   time.Time         `json:"created_at"`
}

// RemediationItem is one scheduled or completed remediation action.
type RemediationItem struct {
	IssueType string `json:"issue_type"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Status    string `json:"status"`
}
