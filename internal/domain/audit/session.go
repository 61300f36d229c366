package audit

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
)

// SessionType classifies what an audit session examines
type SessionType string

const (
	ComplianceAudit  SessionType = "compliance_audit"
	SecurityAudit    SessionType = "security_audit"
	OperationalAudit SessionType = "operational_audit"
)

// SessionScope bounds an audit session
type SessionScope string

const (
	ScopeSystemWide      SessionScope = "system_wide"
	ScopeSpecificProcess SessionScope = "specific_process"
	ScopeCrossRole       SessionScope = "cross_role"
	ScopeServiceSpecific SessionScope = "service_specific"
)

// SessionStatus tracks a session through its lifecycle
type SessionStatus string

const (
	SessionPlanned    SessionStatus = "planned"
	SessionInitiated  SessionStatus = "initiated"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionSuspended  SessionStatus = "suspended"
)

// IsTerminal reports whether the session can no longer change state.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// SessionPriority ranks a session
type SessionPriority string

const (
	PriorityLow      SessionPriority = "low"
	PriorityMedium   SessionPriority = "medium"
	PriorityHigh     SessionPriority = "high"
	PriorityCritical SessionPriority = "critical"
)

// FindingSeverity ranks an audit finding
type FindingSeverity string

const (
	FindingCritical FindingSeverity = "critical"
	FindingHigh     FindingSeverity = "high"
	FindingMedium   FindingSeverity = "medium"
	FindingLow      FindingSeverity = "low"
	FindingInfo     FindingSeverity = "info"
)

// Finding is one recorded audit observation.
type Finding struct {
	FindingID   string          `json:"finding_id"`
	Severity    FindingSeverity `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Evidence    []string        `json:"evidence,omitempty"`
}

// Session is one audit engagement. Exactly one trail exists per session
// while it is active.
type Session struct {
	AuditID         string          `json:"audit_id"`
	Type            SessionType     `json:"type"`
	Scope           SessionScope    `json:"scope"`
	Initiator       string          `json:"initiator"`
	TargetServices  []string        `json:"target_services"`
	Objectives      []string        `json:"objectives,omitempty"`
	Status          SessionStatus   `json:"status"`
	Priority        SessionPriority `json:"priority"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	Findings        []Finding       `json:"findings,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Complete stamps completion bookkeeping on the session.
func (s *Session) Complete(endTime time.Time, findings []Finding, recommendations []string) error {
	if s.Status.IsTerminal() {
		return errors.NewBusinessError("SESSION_TERMINAL",
			"cannot complete a session in terminal state "+string(s.Status))
	}
	s.Status = SessionCompleted
	s.EndTime = &endTime
	s.DurationSeconds = endTime.Sub(s.StartTime).Seconds()
	s.Findings = findings
	s.Recommendations = recommendations
	return nil
}

// Cancel stamps cancellation bookkeeping on the session.
func (s *Session) Cancel(endTime time.Time, reason string) error {
	if s.Status.IsTerminal() {
		return errors.NewBusinessError("SESSION_TERMINAL",
			"cannot cancel a session in terminal state "+string(s.Status))
	}
	s.Status = SessionCancelled
	s.EndTime = &endTime
	s.DurationSeconds = endTime.Sub(s.StartTime).Seconds()
	if reason != "" {
		s.Recommendations = append(s.Recommendations, "cancelled: "+reason)
	}
	return nil
}

// HasCriticalFindings reports whether any finding is critical.
func (s *Session) HasCriticalFindings() bool {
	for _, f := range s.Findings {
		if f.Severity == FindingCritical {
			return true
		}
	}
	return false
}

// ComplianceStatus summarizes a completed session by its worst finding
type ComplianceStatus string

const (
	StatusFullyCompliant     ComplianceStatus = "fully_compliant"
	StatusCompliantWithRecs  ComplianceStatus = "compliant_with_recommendations"
	StatusPartiallyCompliant ComplianceStatus = "partially_compliant"
	StatusNonCompliant       ComplianceStatus = "non_compliant"
)

// DeriveComplianceStatus applies the worst-severity-present rule.
func DeriveComplianceStatus(findings []Finding) ComplianceStatus {
	hasHigh := false
	for _, f := range findings {
		switch f.Severity {
		case FindingCritical:
			return StatusNonCompliant
		case FindingHigh:
			hasHigh = true
		}
	}
	if hasHigh {
		return StatusPartiallyCompliant
	}
	if len(findings) > 0 {
		return StatusCompliantWithRecs
	}
	return StatusFullyCompliant
}

// Report is a generated audit report for one session.
type Report struct {
	ReportID         string           `json:"report_id"`
	SessionID        string           `json:"session_id"`
	ReportType       string           `json:"report_type"`
	ExecutiveSummary string           `json:"executive_summary"`
	Findings         []Finding        `json:"findings"`
	Recommendations  []string         `json:"recommendations,omitempty"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
