package regulatory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	domainerrors "github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/cache"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
)

type trackerFixture struct {
	tracker  *Tracker
	bus      *events.MemoryBus
	notifier *notification.Recorder
	clock    *clock.MockClock
	grants   *MemoryGrantRepository
	kpis     map[string]float64
	kpiCalls int
}

func newTestTracker(t *testing.T, opts ...Option) *trackerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &trackerFixture{
		bus:      events.NewMemoryBus(),
		notifier: notification.NewRecorder(),
		clock:    clock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		grants:   NewMemoryGrantRepository(),
		kpis: map[string]float64{
			"total_taxpayers_onboarded":     65,
			"active_transmission_rate":      0.75,
			"large_taxpayer_count":          6,
			"sector_diversity_score":        0.65,
			"sme_taxpayer_count":            10,
			"comprehensive_validation_rate": 0.9,
		},
	}
	calc := KPICalculatorFunc(func(_ context.Context, _ string) (map[string]float64, error) {
		f.kpiCalls++
		out := make(map[string]float64, len(f.kpis))
		for k, v := range f.kpis {
			out[k] = v
		}
		return out, nil
	})

	store := cache.NewRedisCacheFromClient(client, zap.NewNop())
	opts = append([]Option{WithClock(f.clock), WithIDGenerator(clock.NewSequenceGenerator("reg"))}, opts...)
	f.tracker = NewTracker(zap.NewNop(), f.bus, f.notifier, store, calc, f.grants, opts...)
	return f
}

func sampleChange(id string) *regulatory.Change {
	deadline := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	return &regulatory.Change{
		ChangeID:           id,
		Source:             regulatory.SourceFIRS,
		ChangeType:         regulatory.ChangeTechnicalSpecification,
		Title:              "UBL 3.0 schema migration",
		ImpactLevel:        regulatory.ImpactHigh,
		Status:             regulatory.ChangeAnnounced,
		AffectedServices:   []string{"si_services", "app_services"},
		ComplianceDeadline: &deadline,
		EffectiveDate:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PublishedDate:      time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestRegisterRegulatoryChange(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	analysis, err := f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, "high", analysis.ImplementationEffort)
	assert.Equal(t, "high", analysis.BusinessImpact)
	assert.Equal(t, "medium", analysis.ComplianceComplexity)

	// One gap per affected service, each dropping the service to 80%.
	for _, service := range []string{"si_services", "app_services"} {
		gaps := f.tracker.OpenGaps(service)
		require.Len(t, gaps, 1)
		assert.Equal(t, "firs-2026-001", gaps[0].ChangeID)
		assert.Len(t, gaps[0].RemediationSteps, 4)

		status := f.tracker.ServiceStatus(service)
		assert.Equal(t, 80.0, status.CompliancePercentage)
		assert.Equal(t, regulatory.ServicePartiallyCompliant, status.Status)
	}

	events := f.bus.EventsNamed("regulatory.change_registered")
	require.Len(t, events, 1)
	assert.Equal(t, "firs-2026-001", events[0].Payload["change_id"])

	got, err := f.tracker.GetChange("firs-2026-001")
	require.NoError(t, err)
	assert.Equal(t, "UBL 3.0 schema migration", got.Title)
}

func TestRegisterRegulatoryChangeRejectsDuplicate(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	_, err := f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.NoError(t, err)

	_, err = f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRegulatoryChangeValidation(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	_, err := f.tracker.RegisterRegulatoryChange(ctx, nil)
	require.Error(t, err)

	missing := sampleChange("")
	_, err = f.tracker.RegisterRegulatoryChange(ctx, missing)
	require.Error(t, err)

	past := sampleChange("firs-2026-002")
	deadline := f.clock.Now().Add(-24 * time.Hour)
	past.ComplianceDeadline = &deadline
	_, err = f.tracker.RegisterRegulatoryChange(ctx, past)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "future")
}

func TestAnalyzeImpactHeuristics(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		changeType regulatory.ChangeType
		impact     regulatory.ImpactLevel
		effort     string
		complexity string
		business   string
	}{
		{"critical amendment", regulatory.ChangeAmendment, regulatory.ImpactCritical, "medium", "high", "high"},
		{"critical tech spec", regulatory.ChangeTechnicalSpecification, regulatory.ImpactCritical, "high", "high", "high"},
		{"low clarification", regulatory.ChangeClarification, regulatory.ImpactLow, "low", "low", "low"},
		{"low tech spec keeps high effort", regulatory.ChangeTechnicalSpecification, regulatory.ImpactLow, "high", "low", "low"},
		{"medium default", regulatory.ChangeNewRegulation, regulatory.ImpactMedium, "medium", "medium", "medium"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := &regulatory.Change{ChangeID: "c", Title: "t", ChangeType: tt.changeType, ImpactLevel: tt.impact}
			analysis := analyzeImpact(change, now)
			assert.Equal(t, tt.effort, analysis.ImplementationEffort)
			assert.Equal(t, tt.complexity, analysis.ComplianceComplexity)
			assert.Equal(t, tt.business, analysis.BusinessImpact)
		})
	}
}

func TestSubscriptionMatchingAndNotification(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	matchingID, err := f.tracker.Subscribe(&regulatory.Subscription{
		Subscriber:       "si_compliance_team",
		Sources:          []regulatory.Source{regulatory.SourceFIRS},
		AffectedServices: []string{"si_services"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, matchingID)

	_, err = f.tracker.Subscribe(&regulatory.Subscription{
		Subscriber: "banking_team",
		Sources:    []regulatory.Source{regulatory.SourceCBN},
	})
	require.NoError(t, err)

	_, err = f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.NoError(t, err)

	sent := f.tracker.SentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "si_compliance_team", sent[0].Subscriber)
	assert.Equal(t, "firs-2026-001", sent[0].ChangeID)

	delivered := f.notifier.ByType("regulatory_change")
	require.Len(t, delivered, 1)
	assert.Equal(t, "si_compliance_team", delivered[0].Payload["subscriber"])
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	id, err := f.tracker.Subscribe(&regulatory.Subscription{Subscriber: "team"})
	require.NoError(t, err)
	require.True(t, f.tracker.Unsubscribe(id))
	require.False(t, f.tracker.Unsubscribe(id))

	_, err = f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.NoError(t, err)
	assert.Empty(t, f.tracker.SentNotifications())
}

func TestCloseGapRestoresCompliance(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	_, err := f.tracker.RegisterRegulatoryChange(ctx, sampleChange("firs-2026-001"))
	require.NoError(t, err)

	gaps := f.tracker.OpenGaps("si_services")
	require.Len(t, gaps, 1)

	require.True(t, f.tracker.CloseGap("si_services", gaps[0].GapID))
	require.False(t, f.tracker.CloseGap("si_services", gaps[0].GapID))

	status := f.tracker.ServiceStatus("si_services")
	assert.Equal(t, 100.0, status.CompliancePercentage)
	assert.Equal(t, regulatory.ServiceCompliant, status.Status)
}

func TestGetChangeNotFound(t *testing.T) {
	f := newTestTracker(t)
	_, err := f.tracker.GetChange("missing")
	require.ErrorIs(t, err, domainerrors.ErrChangeNotFound)
}

func TestMonitorMilestoneRequirements(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	statuses, err := f.tracker.MonitorMilestoneRequirements(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, statuses, 5)

	// 65 taxpayers at 75% transmission: milestones 1-3 fully met, 4 half
	// met, 5 untouched.
	assert.Equal(t, regulatory.MilestoneAchieved, statuses[0].Status)
	assert.Equal(t, regulatory.MilestoneAchieved, statuses[1].Status)
	assert.Equal(t, regulatory.MilestoneAchieved, statuses[2].Status)

	m4 := statuses[3]
	assert.Equal(t, regulatory.MilestoneInProgress, m4.Status)
	assert.Equal(t, 50.0, m4.ProgressPercentage)
	assert.Equal(t, regulatory.RiskMedium, m4.RiskLevel)
	assert.Len(t, m4.RequirementsPending, 1)

	m5 := statuses[4]
	assert.Equal(t, regulatory.MilestoneNotStarted, m5.Status)
	assert.Equal(t, regulatory.RiskHigh, m5.RiskLevel)
	assert.Len(t, m5.RequirementsPending, 3)
	assert.Len(t, m5.ActionItems, 3)

	// Every pass persists one progress record per milestone.
	history, err := f.grants.GetMilestoneHistory(ctx, "org-1", 4)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50.0, history[0].Status.ProgressPercentage)

	// First assessment always notifies.
	initial := f.notifier.ByType(regulatory.NotifyInitialAssessment)
	assert.Len(t, initial, 5)
}

func TestMonitorMilestoneRequirementsValidation(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	_, err := f.tracker.MonitorMilestoneRequirements(ctx, "")
	require.Error(t, err)

	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 5")
}

func TestMilestoneProgressDeltaNotifications(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	// Ten single-metric rules give 10-point progress granularity.
	rules := make([]regulatory.GrantRule, 0, 10)
	for i := 0; i < 10; i++ {
		rules = append(rules, regulatory.GrantRule{
			RuleID:      string(rune('a' + i)),
			Milestone:   1,
			RuleType:    regulatory.RuleUserCount,
			Description: "requirement " + string(rune('a'+i)),
			Metric:      "metric_" + string(rune('a'+i)),
			Threshold:   1,
		})
	}
	f.tracker.grantRules = rules

	f.kpis = map[string]float64{
		"metric_a": 1, "metric_b": 1, "metric_c": 1, "metric_d": 1, "metric_e": 1,
	}
	_, err := f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 1)
	require.NoError(t, err)
	require.Len(t, f.notifier.ByType(regulatory.NotifyInitialAssessment), 1)

	// Same progress: no further notification.
	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 1)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.ByType(regulatory.NotifyProgressUpdate))

	// 50 -> 60 crosses the 10-point threshold.
	f.kpis["metric_f"] = 1
	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 1)
	require.NoError(t, err)
	updates := f.notifier.ByType(regulatory.NotifyProgressUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, 60.0, updates[0].Payload["progress"])
}

func TestMilestoneProgressDeltaBelowThresholdSilent(t *testing.T) {
	f := newTestTracker(t, WithProgressNotifyDelta(15))
	ctx := context.Background()

	f.tracker.grantRules = []regulatory.GrantRule{
		{RuleID: "r1", Milestone: 1, Description: "a", Metric: "a", Threshold: 1},
		{RuleID: "r2", Milestone: 1, Description: "b", Metric: "b", Threshold: 1},
		{RuleID: "r3", Milestone: 1, Description: "c", Metric: "c", Threshold: 1},
		{RuleID: "r4", Milestone: 1, Description: "d", Metric: "d", Threshold: 1},
		{RuleID: "r5", Milestone: 1, Description: "e", Metric: "e", Threshold: 1},
		{RuleID: "r6", Milestone: 1, Description: "f", Metric: "f", Threshold: 1},
		{RuleID: "r7", Milestone: 1, Description: "g", Metric: "g", Threshold: 1},
		{RuleID: "r8", Milestone: 1, Description: "h", Metric: "h", Threshold: 1},
		{RuleID: "r9", Milestone: 1, Description: "i", Metric: "i", Threshold: 1},
		{RuleID: "r10", Milestone: 1, Description: "j", Metric: "j", Threshold: 1},
	}

	f.kpis = map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}
	_, err := f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 1)
	require.NoError(t, err)

	// A 10-point move stays under the configured 15-point delta.
	f.kpis["f"] = 1
	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 1)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.ByType(regulatory.NotifyProgressUpdate))
}

func TestMilestoneAchievedNotification(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	f.kpis["total_taxpayers_onboarded"] = 70
	_, err := f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 4)
	require.NoError(t, err)

	f.kpis["total_taxpayers_onboarded"] = 85
	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 4)
	require.NoError(t, err)

	achieved := f.notifier.ByType(regulatory.NotifyMilestoneAchieved)
	require.Len(t, achieved, 1)
	assert.Equal(t, 4, achieved[0].Payload["milestone"])
	assert.Equal(t, string(regulatory.MilestoneAchieved), achieved[0].Payload["status"])
}

func TestMilestoneRiskEscalationNotification(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	// Milestone 5 fully met, then regresses to one of three requirements.
	f.kpis["total_taxpayers_onboarded"] = 120
	f.kpis["sme_taxpayer_count"] = 50
	f.kpis["comprehensive_validation_rate"] = 0.97
	_, err := f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 5)
	require.NoError(t, err)

	f.kpis["sme_taxpayer_count"] = 10
	f.kpis["comprehensive_validation_rate"] = 0.5
	f.kpis["total_taxpayers_onboarded"] = 50
	_, err = f.tracker.MonitorMilestoneRequirements(ctx, "org-1", 5)
	require.NoError(t, err)

	escalations := f.notifier.ByType(regulatory.NotifyRiskEscalation)
	require.Len(t, escalations, 1)
	assert.Equal(t, string(regulatory.RiskHigh), escalations[0].Payload["risk_level"])
}

func TestTrackGrantEligibility(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	eligibility, err := f.tracker.TrackGrantEligibility(ctx, "org-1", false)
	require.NoError(t, err)
	require.NotNil(t, eligibility)

	assert.Equal(t, []int{1, 2, 3}, eligibility.EligibleMilestones)
	assert.True(t, eligibility.PaymentProjection.Equal(decimal.NewFromInt(9_000_000)),
		"expected 9M NGN, got %s", eligibility.PaymentProjection)
	// (100+100+100+50+0)/5
	assert.InDelta(t, 70.0, eligibility.EligibilityScore, 0.01)
	assert.Equal(t, "3-6 months to full eligibility", eligibility.TimelineEstimate)
	assert.Len(t, eligibility.ReadinessFactors, 3)
	assert.NotEmpty(t, eligibility.Recommendations)
	assert.Equal(t, 1, f.kpiCalls)
}

func TestTrackGrantEligibilityCaching(t *testing.T) {
	f := newTestTracker(t)
	ctx := context.Background()

	first, err := f.tracker.TrackGrantEligibility(ctx, "org-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, f.kpiCalls)

	// Cache hit skips the KPI calculator entirely.
	second, err := f.tracker.TrackGrantEligibility(ctx, "org-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.kpiCalls)
	assert.Equal(t, first.EligibleMilestones, second.EligibleMilestones)
	assert.True(t, first.PaymentProjection.Equal(second.PaymentProjection))

	// forceRefresh recomputes even with a warm cache.
	f.kpis["total_taxpayers_onboarded"] = 120
	f.kpis["active_transmission_rate"] = 0.8
	refreshed, err := f.tracker.TrackGrantEligibility(ctx, "org-1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.kpiCalls)
	assert.Contains(t, refreshed.EligibleMilestones, 4)
}

func TestTrackGrantEligibilityKPIFailure(t *testing.T) {
	f := newTestTracker(t)
	broken := KPICalculatorFunc(func(_ context.Context, _ string) (map[string]float64, error) {
		return nil, assert.AnError
	})
	f.tracker.kpis = broken

	_, err := f.tracker.TrackGrantEligibility(context.Background(), "org-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kpi_calculator")
}

func TestDeriveServiceStatusThresholds(t *testing.T) {
	now := time.Now()
	tests := []struct {
		gaps   int
		pct    float64
		status string
	}{
		{0, 100, regulatory.ServiceCompliant},
		{1, 80, regulatory.ServicePartiallyCompliant},
		{2, 60, regulatory.ServiceNonCompliant},
		{5, 0, regulatory.ServiceNonCompliant},
		{7, 0, regulatory.ServiceNonCompliant},
	}
	for _, tt := range tests {
		status := regulatory.DeriveServiceStatus("svc", tt.gaps, now)
		assert.Equal(t, tt.pct, status.CompliancePercentage, "gaps=%d", tt.gaps)
		assert.Equal(t, tt.status, status.Status, "gaps=%d", tt.gaps)
	}
}
