package regulatory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/cache"
)

// MonitorMilestoneRequirements pulls the current KPI snapshot, evaluates the
// grant rules for the requested milestones (all five when none are given),
// and diffs each assessment against the previous one to decide whether a
// notification is warranted.
func (t *Tracker) MonitorMilestoneRequirements(ctx context.Context, organizationID string, milestones ...int) ([]*regulatory.MilestoneStatus, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("MISSING_ORGANIZATION", "organization id is required")
	}
	if len(milestones) == 0 {
		milestones = []int{1, 2, 3, 4, 5}
	}
	for _, m := range milestones {
		if err := regulatory.ValidateMilestone(m); err != nil {
			return nil, errors.NewValidationError("INVALID_MILESTONE", err.Error())
		}
	}

	kpis, err := t.kpis.CalculateFIRSGrantKPIs(ctx, organizationID)
	if err != nil {
		return nil, errors.NewExternalError("kpi_calculator", err.Error()).WithCause(err)
	}

	now := t.clock.Now()
	out := make([]*regulatory.MilestoneStatus, 0, len(milestones))
	for _, milestone := range milestones {
		status := t.assessMilestone(milestone, kpis, now)
		out = append(out, status)
		t.metrics.ObserveMilestone(ctx, milestone, status.ProgressPercentage)

		t.mu.Lock()
		previous := t.snapshots[milestone]
		t.snapshots[milestone] = status
		t.mu.Unlock()

		t.notifyOnSnapshotDiff(ctx, organizationID, previous, status)

		if err := t.grants.RecordMilestoneProgress(ctx, &regulatory.MilestoneProgressRecord{
			OrganizationID: organizationID,
			Status:         *status,
			RecordedAt:     now,
		}); err != nil {
			t.logger.Error("failed to record milestone progress",
				zap.String("organization_id", organizationID),
				zap.Int("milestone", milestone),
				zap.Error(err))
		}
	}
	return out, nil
}

// assessMilestone evaluates one milestone's rules against the KPI snapshot.
func (t *Tracker) assessMilestone(milestone int, kpis map[string]float64, now time.Time) *regulatory.MilestoneStatus {
	rules := regulatory.RulesForMilestone(t.grantRules, milestone)

	var met, pending []string
	for _, rule := range rules {
		if rule.Evaluate(kpis) {
			met = append(met, rule.Description)
		} else {
			pending = append(pending, rule.Description)
		}
	}

	progress := 0.0
	if len(rules) > 0 {
		progress = float64(len(met)) / float64(len(rules)) * 100
	}

	status := &regulatory.MilestoneStatus{
		Milestone:           milestone,
		ProgressPercentage:  progress,
		Status:              regulatory.DeriveMilestoneState(progress),
		ComplianceScore:     progress / 100,
		RequirementsMet:     met,
		RequirementsPending: pending,
		AssessedAt:          now,
	}
	status.RiskLevel, status.RiskFactors = assessRisk(progress, pending)
	for _, requirement := range pending {
		status.ActionItems = append(status.ActionItems, "address: "+requirement)
	}
	return status
}

// assessRisk buckets delivery risk by progress and names the unmet
// requirements as risk factors.
func assessRisk(progress float64, pending []string) (regulatory.RiskLevel, []string) {
	var level regulatory.RiskLevel
	switch {
	case progress >= 80:
		level = regulatory.RiskLow
	case progress >= 50:
		level = regulatory.RiskMedium
	default:
		level = regulatory.RiskHigh
	}
	var factors []string
	if level != regulatory.RiskLow {
		factors = append(factors, pending...)
	}
	return level, factors
}

// notifyOnSnapshotDiff fires a milestone notification when the status
// category changed, when progress moved by at least the configured delta,
// or on the first-ever assessment.
func (t *Tracker) notifyOnSnapshotDiff(ctx context.Context, organizationID string, previous, current *regulatory.MilestoneStatus) {
	var notifyType string
	switch {
	case previous == nil:
		notifyType = regulatory.NotifyInitialAssessment
	case previous.Status != current.Status:
		switch {
		case current.Status == regulatory.MilestoneAchieved:
			notifyType = regulatory.NotifyMilestoneAchieved
		case riskRank(current.RiskLevel) > riskRank(previous.RiskLevel):
			notifyType = regulatory.NotifyRiskEscalation
		default:
			notifyType = regulatory.NotifyAtRisk
		}
	case abs(current.ProgressPercentage-previous.ProgressPercentage) >= t.progressNotifyDeltaP:
		notifyType = regulatory.NotifyProgressUpdate
	default:
		return
	}

	if err := t.notifier.SendSystemNotification(ctx, notifyType, map[string]interface{}{
		"organization_id": organizationID,
		"milestone":       current.Milestone,
		"progress":        current.ProgressPercentage,
		"status":          string(current.Status),
		"risk_level":      string(current.RiskLevel),
	}); err != nil {
		t.logger.Error("failed to send milestone notification",
			zap.String("organization_id", organizationID),
			zap.Int("milestone", current.Milestone),
			zap.Error(err))
	}
}

func riskRank(level regulatory.RiskLevel) int {
	switch level {
	case regulatory.RiskLow:
		return 0
	case regulatory.RiskMedium:
		return 1
	case regulatory.RiskHigh:
		return 2
	default:
		return 0
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// TrackGrantEligibility scores the organization across all milestones and
// projects the grant payment for the achieved ones. Results are cached;
// forceRefresh bypasses the cache. Cache failures are logged, never
// propagated.
func (t *Tracker) TrackGrantEligibility(ctx context.Context, organizationID string, forceRefresh bool) (*regulatory.GrantEligibility, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("MISSING_ORGANIZATION", "organization id is required")
	}
	cacheKey := cache.EligibilityPrefix + organizationID

	if !forceRefresh && t.cache != nil {
		var cached regulatory.GrantEligibility
		if err := t.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	kpis, err := t.kpis.CalculateFIRSGrantKPIs(ctx, organizationID)
	if err != nil {
		return nil, errors.NewExternalError("kpi_calculator", err.Error()).WithCause(err)
	}

	now := t.clock.Now()
	eligibility := &regulatory.GrantEligibility{
		OrganizationID:    organizationID,
		PaymentProjection: decimal.Zero,
		AssessedAt:        now,
	}

	totalProgress := 0.0
	pendingMilestones := 0
	for milestone := 1; milestone <= 5; milestone++ {
		status := t.assessMilestone(milestone, kpis, now)
		totalProgress += status.ProgressPercentage

		if status.Status == regulatory.MilestoneAchieved {
			eligibility.EligibleMilestones = append(eligibility.EligibleMilestones, milestone)
			eligibility.PaymentProjection = eligibility.PaymentProjection.Add(regulatory.MilestonePayment(milestone))
			eligibility.ReadinessFactors = append(eligibility.ReadinessFactors,
				fmt.Sprintf("milestone %d requirements fully met", milestone))
		} else {
			pendingMilestones++
			if status.RiskLevel == regulatory.RiskHigh {
				eligibility.RiskFactors = append(eligibility.RiskFactors,
					fmt.Sprintf("milestone %d progress at %.0f%%", milestone, status.ProgressPercentage))
			}
			for _, requirement := range status.RequirementsPending {
				eligibility.Recommendations = append(eligibility.Recommendations,
					fmt.Sprintf("milestone %d: %s", milestone, requirement))
			}
		}
	}
	eligibility.EligibilityScore = totalProgress / 5
	eligibility.TimelineEstimate = estimateTimeline(pendingMilestones)

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cacheKey, eligibility, t.eligibilityTTL); err != nil {
			t.logger.Error("failed to cache grant eligibility",
				zap.String("organization_id", organizationID), zap.Error(err))
		}
	}

	t.logger.Info("grant eligibility assessed",
		zap.String("organization_id", organizationID),
		zap.Float64("score", eligibility.EligibilityScore),
		zap.Ints("eligible_milestones", eligibility.EligibleMilestones),
		zap.String("payment_projection", eligibility.PaymentProjection.String()))
	return eligibility, nil
}

func estimateTimeline(pendingMilestones int) string {
	switch {
	case pendingMilestones == 0:
		return "all milestones achieved"
	case pendingMilestones <= 2:
		return "3-6 months to full eligibility"
	default:
		return "6-12 months to full eligibility"
	}
}

// MilestoneSnapshot returns the latest cached assessment for a milestone.
func (t *Tracker) MilestoneSnapshot(milestone int) (*regulatory.MilestoneStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snapshots[milestone]
	return s, ok
}
