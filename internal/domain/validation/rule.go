package validation

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
)

// Scope restricts a validation rule to a role-handoff direction
type Scope string

const (
	ScopeSIToAPP       Scope = "si_to_app"
	ScopeAPPToSI       Scope = "app_to_si"
	ScopeBidirectional Scope = "bidirectional"
	ScopeInternal      Scope = "internal"
)

// Matches reports whether a source→target handoff falls inside this scope.
func (s Scope) Matches(source, target regulation.ServiceRole) bool {
	switch s {
	case ScopeBidirectional:
		return true
	case ScopeSIToAPP:
		return source == regulation.RoleSI && target == regulation.RoleAPP
	case ScopeAPPToSI:
		return source == regulation.RoleAPP && target == regulation.RoleSI
	case ScopeInternal:
		return source == target
	default:
		return false
	}
}

// Phase identifies where in the handoff pipeline a rule applies
type Phase string

const (
	PhasePreProcessing  Phase = "pre_processing"
	PhaseProcessing     Phase = "processing"
	PhasePostProcessing Phase = "post_processing"
	PhaseHandoff        Phase = "handoff"
	PhaseTransmission   Phase = "transmission"
	PhaseResponse       Phase = "response"
)

// ValidationType classifies what a rule checks
type ValidationType string

const (
	TypeDataCompleteness ValidationType = "data_completeness"
	TypeDataFormat       ValidationType = "data_format"
	TypeDataIntegrity    ValidationType = "data_integrity"
	TypeSecurity         ValidationType = "security"
	TypeTransmission     ValidationType = "transmission"
)

// Severity ranks a validation issue; weights drive score deductions
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the score deduction for an issue of this severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.2
	case SeverityInfo:
		return 0.1
	default:
		return 0.1
	}
}

// Rank orders severities for critical-first evaluation; lower runs first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// ConditionType selects the evaluation strategy for a validation condition
type ConditionType string

const (
	ConditionFieldRequired ConditionType = "field_required"
	ConditionFieldFormat   ConditionType = "field_format"
	ConditionFieldEquals   ConditionType = "field_equals"
	ConditionDataIntegrity ConditionType = "data_integrity"
	ConditionCustom        ConditionType = "custom"
)

// Condition is one machine-checkable requirement within a validation rule.
// Fields support dot-path traversal; data_integrity compares two fields for
// equality across the handoff payload.
type Condition struct {
	Type       ConditionType `json:"type"`
	Field      string        `json:"field,omitempty"`
	OtherField string        `json:"other_field,omitempty"`
	Value      interface{}   `json:"value,omitempty"`
	Pattern    string        `json:"pattern,omitempty"`
	Validator  string        `json:"validator,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Rule is a registered cross-role validation requirement.
type Rule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ValidationType ValidationType `json:"validation_type"`
	Scope          Scope          `json:"scope"`
	Phase          Phase          `json:"phase"`
	Severity       Severity       `json:"severity"`
	Conditions     []Condition    `json:"conditions"`
	Enabled        bool           `json:"enabled"`
	CreatedAt      time.Time      `json:"created_at"`

	// Registration order, used as the tie-breaker when sorting by severity.
	Seq int64 `json:"-"`
}

// Validate checks the rule's structural invariants at registration time.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("MISSING_RULE_ID", "validation rule id is required")
	}
	if r.Name == "" {
		return errors.NewValidationError("MISSING_RULE_NAME", "validation rule name is required")
	}
	if len(r.Conditions) == 0 {
		return errors.NewValidationError("MISSING_CONDITIONS",
			"validation rule must have at least one condition")
	}
	for _, c := range r.Conditions {
		switch c.Type {
		case ConditionFieldRequired, ConditionFieldFormat, ConditionFieldEquals:
			if c.Field == "" {
				return errors.NewValidationError("MISSING_CONDITION_FIELD",
					"condition field is required")
			}
		case ConditionDataIntegrity:
			if c.Field == "" || c.OtherField == "" {
				return errors.NewValidationError("MISSING_INTEGRITY_FIELDS",
					"data integrity condition requires both fields")
			}
		case ConditionCustom:
			if c.Validator == "" {
				return errors.NewValidationError("MISSING_VALIDATOR",
					"custom condition requires a validator key")
			}
		default:
			return errors.NewValidationError("UNKNOWN_CONDITION_TYPE",
				"unsupported condition type: "+string(c.Type))
		}
	}
	return nil
}
