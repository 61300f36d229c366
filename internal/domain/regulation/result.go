package regulation

import (
	"time"
)

// Context is a one-shot enforcement input. Created per call, discarded after use.
type Context struct {
	ContextID   string                 `json:"context_id"`
	ServiceRole ServiceRole            `json:"service_role"`
	ServiceName string                 `json:"service_name"`
	Operation   string                 `json:"operation"`
	Data        map[string]interface{} `json:"data"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ViolationSeverity ranks a detected violation
type ViolationSeverity string

const (
	SeverityCritical ViolationSeverity = "critical"
	SeverityHigh     ViolationSeverity = "high"
	SeverityMedium   ViolationSeverity = "medium"
	SeverityLow      ViolationSeverity = "low"
	SeverityWarning  ViolationSeverity = "warning"
)

// SeverityForLevel maps a rule's compliance level to the severity of the
// violation it produces. The mapping is total and pure.
func SeverityForLevel(level ComplianceLevel) ViolationSeverity {
	switch level {
	case LevelCritical:
		return SeverityCritical
	case LevelHigh:
		return SeverityHigh
	case LevelMedium:
		return SeverityMedium
	case LevelLow:
		return SeverityLow
	case LevelInformational:
		return SeverityWarning
	default:
		return SeverityWarning
	}
}

// Resolution records how an active violation was closed out.
type Resolution struct {
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by"`
	Notes      string    `json:"notes"`
}

// Violation is emitted when a rule fails. It stays in the engine's active
// map until resolved.
type Violation struct {
	ViolationID string                 `json:"violation_id"`
	RuleID      string                 `json:"rule_id"`
	Severity    ViolationSeverity      `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Context     Context                `json:"context"`
	DetectedAt  time.Time              `json:"detected_at"`
	Resolution  *Resolution            `json:"resolution,omitempty"`
}

// Result is the outcome of checking one rule against one context.
// Immutable once produced.
type Result struct {
	RuleID          string         `json:"rule_id"`
	RegulationType  RegulationType `json:"regulation_type"`
	ServiceRole     ServiceRole    `json:"service_role"`
	Compliant       bool           `json:"compliant"`
	Score           float64        `json:"score"`
	Violations      []*Violation   `json:"violations,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	CheckedAt       time.Time      `json:"checked_at"`
}

// StatusSummary aggregates compliance posture over recorded checks.
type StatusSummary struct {
	TotalChecks          int                       `json:"total_checks"`
	CompliantChecks      int                       `json:"compliant_checks"`
	ComplianceRate       float64                   `json:"compliance_rate"`
	ActiveViolations     int                       `json:"active_violations"`
	ViolationsBySeverity map[ViolationSeverity]int `json:"violations_by_severity"`
	GeneratedAt          time.Time                 `json:"generated_at"`
}
