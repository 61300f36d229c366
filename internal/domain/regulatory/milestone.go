package regulatory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GrantRuleType classifies what a FIRS grant rule measures
type GrantRuleType string

const (
	RuleUserCount               GrantRuleType = "user_count"
	RuleActivityRate            GrantRuleType = "activity_rate"
	RuleTaxpayerDiversity       GrantRuleType = "taxpayer_diversity"
	RuleSectorDiversity         GrantRuleType = "sector_diversity"
	RuleSustainedPerformance    GrantRuleType = "sustained_performance"
	RuleComprehensiveValidation GrantRuleType = "comprehensive_validation"
)

// GrantRule is one machine-checkable requirement gating a FIRS grant
// milestone. Metric names a key in the KPI snapshot; the rule passes when
// the metric value is at least Threshold.
type GrantRule struct {
	RuleID      string        `json:"rule_id"`
	Milestone   int           `json:"milestone"`
	RuleType    GrantRuleType `json:"rule_type"`
	Description string        `json:"description"`
	Metric      string        `json:"metric"`
	Threshold   float64       `json:"threshold"`
}

// Evaluate checks the rule against a KPI snapshot. A missing metric fails
// the rule rather than erroring: an absent KPI is an unmet requirement.
func (r GrantRule) Evaluate(kpis map[string]float64) bool {
	value, ok := kpis[r.Metric]
	if !ok {
		return false
	}
	return value >= r.Threshold
}

// MilestoneState is the derived progress bucket for a milestone
type MilestoneState string

const (
	MilestoneNotStarted MilestoneState = "not_started"
	MilestoneInProgress MilestoneState = "in_progress"
	MilestoneAchieved   MilestoneState = "milestone_achieved"
)

// DeriveMilestoneState applies the threshold ladder. The >=80 and >=50
// branches intentionally land in the same bucket; the two-tier behavior is
// preserved as shipped.
func DeriveMilestoneState(progress float64) MilestoneState {
	switch {
	case progress == 100:
		return MilestoneAchieved
	case progress >= 80:
		return MilestoneInProgress
	case progress >= 50:
		return MilestoneInProgress
	default:
		return MilestoneNotStarted
	}
}

// RiskLevel ranks the delivery risk of a milestone
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MilestoneStatus is one monitoring pass's snapshot for a milestone,
// recomputed each pass and diffed against the previous cached snapshot.
type MilestoneStatus struct {
	Milestone           int            `json:"milestone"`
	ProgressPercentage  float64        `json:"progress_percentage"`
	Status              MilestoneState `json:"status"`
	RiskLevel           RiskLevel      `json:"risk_level"`
	RiskFactors         []string       `json:"risk_factors,omitempty"`
	ComplianceScore     float64        `json:"compliance_score"`
	RequirementsMet     []string       `json:"requirements_met"`
	RequirementsPending []string       `json:"requirements_pending"`
	ActionItems         []string       `json:"action_items,omitempty"`
	AssessedAt          time.Time      `json:"assessed_at"`
}

// MilestoneNotificationType labels why a snapshot diff fired a notification
const (
	NotifyInitialAssessment = "initial_assessment"
	NotifyMilestoneAchieved = "milestone_achieved"
	NotifyAtRisk            = "at_risk"
	NotifyRiskEscalation    = "risk_escalation"
	NotifyProgressUpdate    = "progress_update"
)

// GrantEligibility is the holistic scoring pass over all milestones, cached
// between refreshes.
type GrantEligibility struct {
	OrganizationID     string          `json:"organization_id"`
	EligibilityScore   float64         `json:"eligibility_score"`
	EligibleMilestones []int           `json:"eligible_milestones"`
	ReadinessFactors   []string        `json:"readiness_factors,omitempty"`
	RiskFactors        []string        `json:"risk_factors,omitempty"`
	Recommendations    []string        `json:"recommendations,omitempty"`
	TimelineEstimate   string          `json:"timeline_estimate"`
	PaymentProjection  decimal.Decimal `json:"payment_projection"`
	AssessedAt         time.Time       `json:"assessed_at"`
}

// MilestoneProgressRecord is the append-only snapshot persisted to the grant
// tracking repository per monitoring pass.
type MilestoneProgressRecord struct {
	OrganizationID string          `json:"organization_id"`
	Status         MilestoneStatus `json:"status"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// DefaultGrantRules returns the fixed rule set gating the five FIRS
// milestones: 20/40/60/80/100 taxpayers onboarded plus qualitative gates.
func DefaultGrantRules() []GrantRule {
	rules := []GrantRule{
		{RuleID: "m1_taxpayers", Milestone: 1, RuleType: RuleUserCount,
			Description: "at least 20 taxpayers onboarded",
			Metric:      "total_taxpayers_onboarded", Threshold: 20},
		{RuleID: "m1_activity", Milestone: 1, RuleType: RuleActivityRate,
			Description: "active transmission rate at least 50%",
			Metric:      "active_transmission_rate", Threshold: 0.5},

		{RuleID: "m2_taxpayers", Milestone: 2, RuleType: RuleUserCount,
			Description: "at least 40 taxpayers onboarded",
			Metric:      "total_taxpayers_onboarded", Threshold: 40},
		{RuleID: "m2_diversity", Milestone: 2, RuleType: RuleTaxpayerDiversity,
			Description: "at least 5 large taxpayers onboarded",
			Metric:      "large_taxpayer_count", Threshold: 5},

		{RuleID: "m3_taxpayers", Milestone: 3, RuleType: RuleUserCount,
			Description: "at least 60 taxpayers onboarded",
			Metric:      "total_taxpayers_onboarded", Threshold: 60},
		{RuleID: "m3_sectors", Milestone: 3, RuleType: RuleSectorDiversity,
			Description: "sector diversity score at least 0.6",
			Metric:      "sector_diversity_score", Threshold: 0.6},

		{RuleID: "m4_taxpayers", Milestone: 4, RuleType: RuleUserCount,
			Description: "at least 80 taxpayers onboarded",
			Metric:      "total_taxpayers_onboarded", Threshold: 80},
		{RuleID: "m4_sustained", Milestone: 4, RuleType: RuleSustainedPerformance,
			Description: "active transmission rate sustained at 70%",
			Metric:      "active_transmission_rate", Threshold: 0.7},

		{RuleID: "m5_taxpayers", Milestone: 5, RuleType: RuleUserCount,
			Description: "at least 100 taxpayers onboarded",
			Metric:      "total_taxpayers_onboarded", Threshold: 100},
		{RuleID: "m5_sme", Milestone: 5, RuleType: RuleTaxpayerDiversity,
			Description: "at least 40 SME taxpayers onboarded",
			Metric:      "sme_taxpayer_count", Threshold: 40},
		{RuleID: "m5_validation", Milestone: 5, RuleType: RuleComprehensiveValidation,
			Description: "comprehensive validation pass rate at least 95%",
			Metric:      "comprehensive_validation_rate", Threshold: 0.95},
	}
	return rules
}

// MilestonePayment returns the grant payment associated with achieving a
// milestone. Values are illustrative program amounts in NGN.
func MilestonePayment(milestone int) decimal.Decimal {
	switch milestone {
	case 1:
		return decimal.NewFromInt(2_000_000)
	case 2:
		return decimal.NewFromInt(3_000_000)
	case 3:
		return decimal.NewFromInt(4_000_000)
	case 4:
		return decimal.NewFromInt(5_000_000)
	case 5:
		return decimal.NewFromInt(6_000_000)
	default:
		return decimal.Zero
	}
}

// RulesForMilestone filters the rule set for one milestone.
func RulesForMilestone(rules []GrantRule, milestone int) []GrantRule {
	out := make([]GrantRule, 0, len(rules))
	for _, r := range rules {
		if r.Milestone == milestone {
			out = append(out, r)
		}
	}
	return out
}

// ValidateMilestone bounds-checks a milestone number.
func ValidateMilestone(milestone int) error {
	if milestone < 1 || milestone > 5 {
		return fmt.Errorf("milestone must be between 1 and 5, got %d", milestone)
	}
	return nil
}
