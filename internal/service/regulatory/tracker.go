package regulatory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/cache"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
)

// Tracker follows externally-sourced regulatory changes and the FIRS grant
// milestone program. The change pipeline and the milestone tracker are
// independent; they share the tracker only for wiring convenience.
type Tracker struct {
	logger   *zap.Logger
	bus      events.Bus
	notifier notification.Notifier
	cache    cache.Cache
	kpis     KPICalculator
	grants   GrantRepository
	clock    clock.Clock
	ids      clock.IDGenerator
	metrics  *metrics.Registry

	eligibilityTTL       time.Duration
	progressNotifyDeltaP float64

	mu            sync.RWMutex
	changes       map[string]*regulatory.Change
	subscriptions map[string]*regulatory.Subscription
	gapsByService map[string][]*regulatory.Gap
	serviceStatus map[string]regulatory.ServiceComplianceStatus
	notifications []*regulatory.Notification
	grantRules    []regulatory.GrantRule
	snapshots     map[int]*regulatory.MilestoneStatus
}

// Option configures the tracker.
type Option func(*Tracker)

// WithClock overrides the tracker clock.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithIDGenerator overrides the tracker id generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(t *Tracker) { t.ids = g }
}

// WithEligibilityTTL overrides the grant-eligibility cache lifetime.
func WithEligibilityTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.eligibilityTTL = ttl }
}

// WithProgressNotifyDelta overrides the progress change, in percentage
// points, that warrants a progress_update notification.
func WithProgressNotifyDelta(points float64) Option {
	return func(t *Tracker) { t.progressNotifyDeltaP = points }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a regulatory tracker with the standard grant rule set.
func NewTracker(
	logger *zap.Logger,
	bus events.Bus,
	notifier notification.Notifier,
	cacheStore cache.Cache,
	kpis KPICalculator,
	grants GrantRepository,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		logger:               logger,
		bus:                  bus,
		notifier:             notifier,
		cache:                cacheStore,
		kpis:                 kpis,
		grants:               grants,
		clock:                clock.RealClock{},
		ids:                  clock.UUIDGenerator{},
		eligibilityTTL:       cache.EligibilityTTL,
		progressNotifyDeltaP: 10,
		changes:              make(map[string]*regulatory.Change),
		subscriptions:        make(map[string]*regulatory.Subscription),
		gapsByService:        make(map[string][]*regulatory.Gap),
		serviceStatus:        make(map[string]regulatory.ServiceComplianceStatus),
		grantRules:           regulatory.DefaultGrantRules(),
		snapshots:            make(map[int]*regulatory.MilestoneStatus),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterRegulatoryChange validates and stores a change, computes its
// impact analysis, derives one compliance gap per affected service, notifies
// matching subscribers, and recomputes each touched service's posture.
func (t *Tracker) RegisterRegulatoryChange(ctx context.Context, change *regulatory.Change) (*regulatory.ImpactAnalysis, error) {
	if change == nil {
		return nil, errors.NewValidationError("NIL_CHANGE", "regulatory change cannot be nil")
	}
	now := t.clock.Now()
	if err := change.Validate(now); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if _, exists := t.changes[change.ChangeID]; exists {
		t.mu.Unlock()
		return nil, errors.NewConflictError("regulatory change already registered: " + change.ChangeID)
	}
	t.changes[change.ChangeID] = change

	analysis := analyzeImpact(change, now)

	for _, service := range change.AffectedServices {
		gap := &regulatory.Gap{
			GapID:         t.ids.NewID(),
			ChangeID:      change.ChangeID,
			Service:       service,
			GapType:       "regulatory_change",
			CurrentState:  "not_compliant_with_change",
			RequiredState: "compliant_with_" + change.ChangeID,
			RemediationSteps: []string{
				"review regulatory change " + change.ChangeID,
				"assess current implementation against the new requirements",
				"implement required changes before the compliance deadline",
				"verify compliance through a full compliance check",
			},
			EstimatedEffort: analysis.ImplementationEffort,
			Deadline:        change.ComplianceDeadline,
			Priority:        string(change.ImpactLevel),
		}
		t.gapsByService[service] = append(t.gapsByService[service], gap)
		t.serviceStatus[service] = regulatory.DeriveServiceStatus(service, len(t.gapsByService[service]), now)
	}

	matched := make([]*regulatory.Subscription, 0)
	for _, sub := range t.subscriptions {
		if sub.Matches(change) {
			matched = append(matched, sub)
		}
	}
	t.mu.Unlock()

	t.logger.Info("regulatory change registered",
		zap.String("change_id", change.ChangeID),
		zap.String("source", string(change.Source)),
		zap.String("impact_level", string(change.ImpactLevel)),
		zap.Int("affected_services", len(change.AffectedServices)),
		zap.Int("matched_subscriptions", len(matched)))

	for _, sub := range matched {
		t.notifySubscriber(ctx, sub, change)
	}

	t.metrics.RecordRegulatoryChange(ctx, string(change.Source))

	if err := t.bus.Emit(ctx, "regulatory.change_registered", map[string]interface{}{
		"change_id":    change.ChangeID,
		"source":       string(change.Source),
		"change_type":  string(change.ChangeType),
		"impact_level": string(change.ImpactLevel),
	}); err != nil {
		t.logger.Error("failed to emit change event",
			zap.String("change_id", change.ChangeID), zap.Error(err))
	}
	return analysis, nil
}

// analyzeImpact applies the fixed effort/complexity/business-impact
// heuristics keyed off change type and impact level.
func analyzeImpact(change *regulatory.Change, now time.Time) *regulatory.ImpactAnalysis {
	effort := "medium"
	complexity := "medium"
	business := "medium"

	// Technical specifications always demand high implementation effort.
	if change.ChangeType == regulatory.ChangeTechnicalSpecification {
		effort = "high"
	}
	switch change.ImpactLevel {
	case regulatory.ImpactCritical:
		business = "high"
		complexity = "high"
	case regulatory.ImpactHigh:
		business = "high"
	case regulatory.ImpactLow:
		business = "low"
		complexity = "low"
		if change.ChangeType != regulatory.ChangeTechnicalSpecification {
			effort = "low"
		}
	}

	return &regulatory.ImpactAnalysis{
		ChangeID:             change.ChangeID,
		ImplementationEffort: effort,
		ComplianceComplexity: complexity,
		BusinessImpact:       business,
		ImpactLevel:          change.ImpactLevel,
		AnalyzedAt:           now,
	}
}

// Subscribe registers interest in regulatory changes and returns the
// subscription id.
func (t *Tracker) Subscribe(sub *regulatory.Subscription) (string, error) {
	if sub == nil {
		return "", errors.NewValidationError("NIL_SUBSCRIPTION", "subscription cannot be nil")
	}
	if sub.Subscriber == "" {
		return "", errors.NewValidationError("MISSING_SUBSCRIBER", "subscriber is required")
	}
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = t.ids.NewID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = t.clock.Now()
	}

	t.mu.Lock()
	t.subscriptions[sub.SubscriptionID] = sub
	t.mu.Unlock()

	t.logger.Info("regulatory subscription registered",
		zap.String("subscription_id", sub.SubscriptionID),
		zap.String("subscriber", sub.Subscriber))
	return sub.SubscriptionID, nil
}

// Unsubscribe removes a subscription; false for unknown ids.
func (t *Tracker) Unsubscribe(subscriptionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subscriptions[subscriptionID]; !ok {
		return false
	}
	delete(t.subscriptions, subscriptionID)
	return true
}

func (t *Tracker) notifySubscriber(ctx context.Context, sub *regulatory.Subscription, change *regulatory.Change) {
	record := &regulatory.Notification{
		NotificationID: t.ids.NewID(),
		SubscriptionID: sub.SubscriptionID,
		Subscriber:     sub.Subscriber,
		ChangeID:       change.ChangeID,
		Type:           "regulatory_change",
		Message:        change.Title,
		SentAt:         t.clock.Now(),
	}

	t.mu.Lock()
	t.notifications = append(t.notifications, record)
	t.mu.Unlock()

	if err := t.notifier.SendSystemNotification(ctx, "regulatory_change", map[string]interface{}{
		"notification_id": record.NotificationID,
		"subscriber":      sub.Subscriber,
		"change_id":       change.ChangeID,
		"title":           change.Title,
		"impact_level":    string(change.ImpactLevel),
	}); err != nil {
		t.logger.Error("failed to notify subscriber",
			zap.String("subscriber", sub.Subscriber),
			zap.String("change_id", change.ChangeID),
			zap.Error(err))
	}
}

// GetChange looks up a registered change by id.
func (t *Tracker) GetChange(changeID string) (*regulatory.Change, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	change, ok := t.changes[changeID]
	if !ok {
		return nil, errors.ErrChangeNotFound
	}
	return change, nil
}

// ServiceStatus returns the current compliance posture for a service. The
// zero value with service name filled is returned for untracked services.
func (t *Tracker) ServiceStatus(service string) regulatory.ServiceComplianceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if status, ok := t.serviceStatus[service]; ok {
		return status
	}
	return regulatory.DeriveServiceStatus(service, 0, t.clock.Now())
}

// OpenGaps returns the open gaps for a service.
func (t *Tracker) OpenGaps(service string) []*regulatory.Gap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*regulatory.Gap, len(t.gapsByService[service]))
	copy(out, t.gapsByService[service])
	return out
}

// CloseGap removes a gap and recomputes the service's posture; false for
// unknown ids.
func (t *Tracker) CloseGap(service, gapID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	gaps := t.gapsByService[service]
	for i, gap := range gaps {
		if gap.GapID == gapID {
			t.gapsByService[service] = append(gaps[:i], gaps[i+1:]...)
			t.serviceStatus[service] = regulatory.DeriveServiceStatus(
				service, len(t.gapsByService[service]), t.clock.Now())
			return true
		}
	}
	return false
}

// SentNotifications returns a copy of the subscriber notification log.
func (t *Tracker) SentNotifications() []*regulatory.Notification {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*regulatory.Notification, len(t.notifications))
	copy(out, t.notifications)
	return out
}
