package regulation

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
)

// ServiceRole identifies the organizational boundary a rule applies to
type ServiceRole string

const (
	RoleSI     ServiceRole = "si"
	RoleAPP    ServiceRole = "app"
	RoleHybrid ServiceRole = "hybrid"
)

// ServiceScope restricts which service roles a rule is enforced against
type ServiceScope string

const (
	ScopeSIOnly   ServiceScope = "si_only"
	ScopeAPPOnly  ServiceScope = "app_only"
	ScopeSIAndAPP ServiceScope = "si_and_app"
	ScopeHybrid   ServiceScope = "hybrid"
	ScopeAll      ServiceScope = "all"
)

// Matches reports whether a service role falls inside this scope.
// SI_AND_APP deliberately excludes hybrid: hybrid services are only matched
// by the hybrid scope or the catch-all.
func (s ServiceScope) Matches(role ServiceRole) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeSIOnly:
		return role == RoleSI
	case ScopeAPPOnly:
		return role == RoleAPP
	case ScopeHybrid:
		return role == RoleHybrid
	case ScopeSIAndAPP:
		return role == RoleSI || role == RoleAPP
	default:
		return false
	}
}

// RegulationType classifies the body of regulation a rule enforces
type RegulationType string

const (
	RegulationFIRSEInvoice     RegulationType = "firs_einvoice"
	RegulationVATCompliance    RegulationType = "vat_compliance"
	RegulationDataProtection   RegulationType = "data_protection"
	RegulationSecurityStandard RegulationType = "security_standard"
	RegulationTransmission     RegulationType = "transmission"
)

// RuleType classifies how a rule is evaluated
type RuleType string

const (
	RuleTypeStructural RuleType = "structural"
	RuleTypeFormat     RuleType = "format"
	RuleTypeIntegrity  RuleType = "integrity"
	RuleTypeCustom     RuleType = "custom"
)

// ComplianceLevel ranks how severe a rule failure is
type ComplianceLevel string

const (
	LevelCritical      ComplianceLevel = "critical"
	LevelHigh          ComplianceLevel = "high"
	LevelMedium        ComplianceLevel = "medium"
	LevelLow           ComplianceLevel = "low"
	LevelInformational ComplianceLevel = "informational"
)

// Rank orders compliance levels for critical-first evaluation; lower runs first.
func (l ComplianceLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 0
	case LevelHigh:
		return 1
	case LevelMedium:
		return 2
	case LevelLow:
		return 3
	case LevelInformational:
		return 4
	default:
		return 5
	}
}

// ConditionType selects the evaluation strategy for a rule condition
type ConditionType string

const (
	ConditionFieldExists ConditionType = "field_exists"
	ConditionFieldEquals ConditionType = "field_equals"
	ConditionFieldRegex  ConditionType = "field_regex"
	ConditionFieldRange  ConditionType = "field_range"
	ConditionCustom      ConditionType = "custom"
)

// Condition is one machine-checkable requirement within a rule.
// Field supports dot-path traversal into nested payloads.
type Condition struct {
	Type      ConditionType `json:"type"`
	Field     string        `json:"field,omitempty"`
	Value     interface{}   `json:"value,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
	Validator string        `json:"validator,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Rule is a registered regulation requirement. Immutable after registration
// except through the engine's explicit enable/disable/update calls.
type Rule struct {
	ID               string          `json:"id" validate:"required"`
	Name             string          `json:"name" validate:"required"`
	RegulationType   RegulationType  `json:"regulation_type"`
	RuleType         RuleType        `json:"rule_type"`
	ComplianceLevel  ComplianceLevel `json:"compliance_level"`
	Scope            ServiceScope    `json:"scope"`
	Conditions       []Condition     `json:"conditions" validate:"min=1"`
	Actions          []string        `json:"actions"`
	ValidationLogic  string          `json:"validation_logic" validate:"required"`
	RemediationSteps []string        `json:"remediation_steps,omitempty"`
	Enabled          bool            `json:"enabled"`
	EffectiveAt      *time.Time      `json:"effective_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`

	// Registration order, used as the tie-breaker when sorting by level.
	Seq int64 `json:"-"`
}

// Validate checks the rule's structural invariants at registration time.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("MISSING_RULE_ID", "rule id is required")
	}
	if r.Name == "" {
		return errors.NewValidationError("MISSING_RULE_NAME", "rule name is required")
	}
	if len(r.Conditions) == 0 {
		return errors.NewValidationError("MISSING_CONDITIONS", "rule must have at least one condition")
	}
	if r.ValidationLogic == "" {
		return errors.NewValidationError("MISSING_VALIDATION_LOGIC", "rule validation logic key is required")
	}
	if r.EffectiveAt != nil && r.ExpiresAt != nil && !r.EffectiveAt.Before(*r.ExpiresAt) {
		return errors.NewValidationError("INVALID_EFFECTIVE_WINDOW",
			"effective date must be before expiry date")
	}
	for i, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return errors.NewValidationError("INVALID_CONDITION",
				"condition "+r.ID+" is invalid").WithDetails(map[string]interface{}{
				"index": i,
			}).WithCause(err)
		}
	}
	return nil
}

func (c Condition) validate() error {
	switch c.Type {
	case ConditionFieldExists, ConditionFieldEquals, ConditionFieldRegex, ConditionFieldRange:
		if c.Field == "" {
			return errors.NewValidationError("MISSING_CONDITION_FIELD", "condition field is required")
		}
	case ConditionCustom:
		if c.Validator == "" {
			return errors.NewValidationError("MISSING_VALIDATOR", "custom condition requires a validator key")
		}
	default:
		return errors.NewValidationError("UNKNOWN_CONDITION_TYPE", "unsupported condition type: "+string(c.Type))
	}
	if c.Type == ConditionFieldRegex && c.Pattern == "" {
		return errors.NewValidationError("MISSING_PATTERN", "regex condition requires a pattern")
	}
	if c.Type == ConditionFieldRange && c.Min == nil && c.Max == nil {
		return errors.NewValidationError("MISSING_RANGE", "range condition requires min or max")
	}
	return nil
}

// ActiveAt reports whether the rule is enabled and within its effective window.
func (r *Rule) ActiveAt(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.EffectiveAt != nil && now.Before(*r.EffectiveAt) {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}
