package regulatory

import (
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
)

// Source identifies where a regulatory change originates
type Source string

const (
	SourceFIRS  Source = "firs"
	SourceNDPC  Source = "ndpc"
	SourceCBN   Source = "cbn"
	SourceNITDA Source = "nitda"
)

// ChangeType classifies a regulatory change
type ChangeType string

const (
	ChangeNewRegulation          ChangeType = "new_regulation"
	ChangeAmendment              ChangeType = "amendment"
	ChangeTechnicalSpecification ChangeType = "technical_specification"
	ChangeDeadlineExtension      ChangeType = "deadline_extension"
	ChangeClarification          ChangeType = "clarification"
)

// ImpactLevel ranks the blast radius of a change
type ImpactLevel string

const (
	ImpactCritical ImpactLevel = "critical"
	ImpactHigh     ImpactLevel = "high"
	ImpactMedium   ImpactLevel = "medium"
	ImpactLow      ImpactLevel = "low"
)

// ChangeStatus tracks a change's publication lifecycle. Superseding is a new
// record with status superseded referencing the old one via metadata, never
// an in-place edit.
type ChangeStatus string

const (
	ChangeAnnounced  ChangeStatus = "announced"
	ChangeProposed   ChangeStatus = "proposed"
	ChangeEffective  ChangeStatus = "effective"
	ChangeSuperseded ChangeStatus = "superseded"
)

// Change is an externally-sourced regulation update. Never mutated after
// creation.
type Change struct {
	ChangeID           string                 `json:"change_id"`
	Source             Source                 `json:"source"`
	ChangeType         ChangeType             `json:"change_type"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	ImpactLevel        ImpactLevel            `json:"impact_level"`
	Status             ChangeStatus           `json:"status"`
	AffectedServices   []string               `json:"affected_services"`
	ComplianceDeadline *time.Time             `json:"compliance_deadline,omitempty"`
	EffectiveDate      time.Time              `json:"effective_date"`
	PublishedDate      time.Time              `json:"published_date"`
	ReferenceURL       string                 `json:"reference_url,omitempty"`
	Details            map[string]interface{} `json:"details,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks registration invariants. The deadline, if set, must still
// be in the future at registration time.
func (c *Change) Validate(now time.Time) error {
	if c.ChangeID == "" {
		return errors.NewValidationError("MISSING_CHANGE_ID", "change id is required")
	}
	if c.Title == "" {
		return errors.NewValidationError("MISSING_CHANGE_TITLE", "change title is required")
	}
	if c.ComplianceDeadline != nil && !c.ComplianceDeadline.After(now) {
		return errors.NewValidationError("DEADLINE_IN_PAST",
			"compliance deadline must be in the future")
	}
	return nil
}

// ImpactAnalysis is the heuristic assessment computed at registration.
type ImpactAnalysis struct {
	ChangeID             string      `json:"change_id"`
	ImplementationEffort string      `json:"implementation_effort"`
	ComplianceComplexity string      `json:"compliance_complexity"`
	BusinessImpact       string      `json:"business_impact"`
	ImpactLevel          ImpactLevel `json:"impact_level"`
	AnalyzedAt           time.Time   `json:"analyzed_at"`
}

// Gap is a derived compliance shortfall for one affected service.
type Gap struct {
	GapID            string     `json:"gap_id"`
	ChangeID         string     `json:"change_id"`
	Service          string     `json:"service"`
	GapType          string     `json:"gap_type"`
	CurrentState     string     `json:"current_state"`
	RequiredState    string     `json:"required_state"`
	RemediationSteps []string   `json:"remediation_steps"`
	EstimatedEffort  string     `json:"estimated_effort"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Priority         string     `json:"priority"`
}

// Subscription registers interest in regulatory changes. Empty filter slices
// match everything; non-empty filters must all include the change's
// corresponding field, and a non-empty affected-services filter must
// intersect the change's affected services.
type Subscription struct {
	SubscriptionID   string        `json:"subscription_id"`
	Subscriber       string        `json:"subscriber"`
	Sources          []Source      `json:"sources,omitempty"`
	ChangeTypes      []ChangeType  `json:"change_types,omitempty"`
	ImpactLevels     []ImpactLevel `json:"impact_levels,omitempty"`
	AffectedServices []string      `json:"affected_services,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Matches applies the subscription filter semantics to a change.
func (s *Subscription) Matches(c *Change) bool {
	if len(s.Sources) > 0 && !containsSource(s.Sources, c.Source) {
		return false
	}
	if len(s.ChangeTypes) > 0 && !containsChangeType(s.ChangeTypes, c.ChangeType) {
		return false
	}
	if len(s.ImpactLevels) > 0 && !containsImpactLevel(s.ImpactLevels, c.ImpactLevel) {
		return false
	}
	if len(s.AffectedServices) > 0 && !intersects(s.AffectedServices, c.AffectedServices) {
		return false
	}
	return true
}

func containsSource(xs []Source, x Source) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsChangeType(xs []ChangeType, x ChangeType) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsImpactLevel(xs []ImpactLevel, x ImpactLevel) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ServiceComplianceStatus is the per-service compliance posture derived from
// open gaps: percentage = max(0, 100 - 20*gaps), 100 compliant, >=80
// partially compliant, else non compliant.
type ServiceComplianceStatus struct {
	Service              string    `json:"service"`
	OpenGaps             int       `json:"open_gaps"`
	CompliancePercentage float64   `json:"compliance_percentage"`
	Status               string    `json:"status"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Compliance status values for ServiceComplianceStatus.
const (
	ServiceCompliant          = "compliant"
	ServicePartiallyCompliant = "partially_compliant"
	ServiceNonCompliant       = "non_compliant"
)

// DeriveServiceStatus computes the posture from the open gap count.
func DeriveServiceStatus(service string, openGaps int, now time.Time) ServiceComplianceStatus {
	pct := 100.0 - 20.0*float64(openGaps)
	if pct < 0 {
		pct = 0
	}
	status := ServiceNonCompliant
	switch {
	case pct == 100:
		status = ServiceCompliant
	case pct >= 80:
		status = ServicePartiallyCompliant
	}
	return ServiceComplianceStatus{
		Service:              service,
		OpenGaps:             openGaps,
		CompliancePercentage: pct,
		Status:               status,
		UpdatedAt:            now,
	}
}

// Notification is the record delivered to matching subscribers.
type Notification struct {
	NotificationID string    `json:"notification_id"`
	SubscriptionID string    `json:"subscription_id"`
	Subscriber     string    `json:"subscriber"`
	ChangeID       string    `json:"change_id"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	SentAt         time.Time `json:"sent_at"`
}
