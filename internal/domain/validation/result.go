package validation

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
)

// Context is a one-shot validation input describing a role handoff.
type Context struct {
	ContextID  string                 `json:"context_id"`
	SourceRole regulation.ServiceRole `json:"source_role"`
	TargetRole regulation.ServiceRole `json:"target_role"`
	Phase      Phase                  `json:"phase,omitempty"`
	Data       map[string]interface{} `json:"data"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Status is the derived outcome of a validation pass
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusSkipped Status = "skipped"
)

// Issue is one scored finding produced by a validation rule.
type Issue struct {
	IssueID    string      `json:"issue_id"`
	RuleID     string      `json:"rule_id"`
	Type       string      `json:"type"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Field      string      `json:"field,omitempty"`
	Expected   interface{} `json:"expected,omitempty"`
	Actual     interface{} `json:"actual,omitempty"`
	DetectedAt time.Time   `json:"detected_at"`
}

// Issue type names. field_missing and field_format issues are the ones the
// orchestrator's remediation phase can auto-correct.
const (
	IssueFieldMissing       = "field_missing"
	IssueFieldFormat        = "field_format"
	IssueFieldMismatch      = "field_mismatch"
	IssueIntegrityMismatch  = "data_integrity_mismatch"
	IssueSchemaViolation    = "schema_violation"
	IssueUndeclaredField    = "undeclared_field"
	IssueRuleExecutionError = "rule_execution_error"
)

// Result is the outcome of validating one context against the applicable
// rule set. Status is derived, never set directly: failed if any critical
// issue exists, warning if any issue exists, skipped if no rules applied,
// passed otherwise.
type Result struct {
	ValidationID string    `json:"validation_id"`
	ContextID    string    `json:"context_id"`
	Status       Status    `json:"status"`
	Score        float64   `json:"score"`
	Issues       []*Issue  `json:"issues,omitempty"`
	RulesChecked int       `json:"rules_checked"`
	ValidatedAt  time.Time `json:"validated_at"`
}

// DeriveStatus computes the result status from the issue set.
func DeriveStatus(rulesChecked int, issues []*Issue) Status {
	if rulesChecked == 0 {
		return StatusSkipped
	}
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return StatusFailed
		}
	}
	if len(issues) > 0 {
		return StatusWarning
	}
	return StatusPassed
}

// DataIntegrityCheck is the outcome of hashing and diffing two payloads.
type DataIntegrityCheck struct {
	IntegrityVerified bool           `json:"integrity_verified"`
	SourceHash        string         `json:"source_hash"`
	TargetHash        string         `json:"target_hash"`
	Differences       *IntegrityDiff `json:"differences,omitempty"`
	CheckedAt         time.Time      `json:"checked_at"`
}

// IntegrityDiff is the top-level field diff computed on hash mismatch.
type IntegrityDiff struct {
	MissingInTarget []string             `json:"missing_in_target,omitempty"`
	MissingInSource []string             `json:"missing_in_source,omitempty"`
	ValueMismatch   map[string]ValuePair `json:"value_mismatch,omitempty"`
}

// ValuePair holds both sides of a mismatched field.
type ValuePair struct {
	Source interface{} `json:"source"`
	Target interface{} `json:"target"`
}

// Schema describes the expected shape of a named payload for schema
// compliance checks.
type Schema struct {
	Name       string                  `json:"name"`
	Required   []string                `json:"required"`
	Properties map[string]PropertySpec `json:"properties"`
}

// PropertySpec constrains one schema property.
type PropertySpec struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}
