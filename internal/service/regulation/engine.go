package regulation

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/fieldpath"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
)

// historyRecord annotates a compliance result for status aggregation.
type historyRecord struct {
	result *regulation.Result
}

// Engine evaluates regulation contexts against registered rules and tracks
// active violations. All registries are owned exclusively by the engine and
// guarded by its mutex.
type Engine struct {
	logger   *zap.Logger
	bus      events.Bus
	notifier notification.Notifier
	clock    clock.Clock
	ids      clock.IDGenerator
	metrics  *metrics.Registry

	mu               sync.RWMutex
	rules            map[string]*regulation.Rule
	ruleSeq          int64
	customValidators map[string]CustomValidator
	activeViolations map[string]*regulation.Violation
	resolved         []*regulation.Violation
	history          []historyRecord
	historyCapacity  int
	resolvedCapacity int
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides the engine id generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithHistoryCapacity bounds the result history ring.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) { e.historyCapacity = n }
}

// WithResolvedCapacity bounds the resolved-violation history ring.
func WithResolvedCapacity(n int) Option {
	return func(e *Engine) { e.resolvedCapacity = n }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a regulation engine.
func NewEngine(logger *zap.Logger, bus events.Bus, notifier notification.Notifier, opts ...Option) *Engine {
	e := &Engine{
		logger:           logger,
		bus:              bus,
		notifier:         notifier,
		clock:            clock.RealClock{},
		ids:              clock.UUIDGenerator{},
		rules:            make(map[string]*regulation.Rule),
		customValidators: make(map[string]CustomValidator),
		activeViolations: make(map[string]*regulation.Violation),
		historyCapacity:  1000,
		resolvedCapacity: 1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterRegulationRule validates and stores a rule. Registration order is
// preserved as the tie-breaker for enforcement ordering.
func (e *Engine) RegisterRegulationRule(rule *regulation.Rule) error {
	if rule == nil {
		return errors.NewValidationError("NIL_RULE", "rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; exists {
		return errors.NewConflictError("rule already registered: " + rule.ID)
	}

	e.ruleSeq++
	rule.Seq = e.ruleSeq
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = e.clock.Now()
	}
	e.rules[rule.ID] = rule

	e.logger.Info("regulation rule registered",
		zap.String("rule_id", rule.ID),
		zap.String("regulation_type", string(rule.RegulationType)),
		zap.String("compliance_level", string(rule.ComplianceLevel)))
	return nil
}

// RegisterCustomValidator binds a validator implementation to a key that
// custom conditions can reference.
func (e *Engine) RegisterCustomValidator(key string, v CustomValidator) error {
	if key == "" {
		return errors.NewValidationError("MISSING_VALIDATOR_KEY", "validator key is required")
	}
	if v == nil {
		return errors.NewValidationError("NIL_VALIDATOR", "validator cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customValidators[key] = v
	return nil
}

// EnableRule re-enables a registered rule.
func (e *Engine) EnableRule(ruleID string) error {
	return e.setEnabled(ruleID, true)
}

// DisableRule disables a registered rule without removing it.
func (e *Engine) DisableRule(ruleID string) error {
	return e.setEnabled(ruleID, false)
}

func (e *Engine) setEnabled(ruleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return errors.ErrRuleNotFound
	}
	rule.Enabled = enabled
	return nil
}

// UpdateRule replaces a registered rule in place, preserving its
// registration order.
func (e *Engine) UpdateRule(rule *regulation.Rule) error {
	if rule == nil {
		return errors.NewValidationError("NIL_RULE", "rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.rules[rule.ID]
	if !ok {
		return errors.ErrRuleNotFound
	}
	rule.Seq = existing.Seq
	rule.CreatedAt = existing.CreatedAt
	e.rules[rule.ID] = rule
	return nil
}

// RemoveRule deletes a rule; shutdown/cleanup path only.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[ruleID]; !ok {
		return false
	}
	delete(e.rules, ruleID)
	return true
}

// RuleIDs returns the ids of all registered rules.
func (e *Engine) RuleIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnforceRegulations evaluates every applicable rule against the context,
// most severe compliance levels first, and returns one result per rule.
func (e *Engine) EnforceRegulations(ctx context.Context, rctx *regulation.Context, regulationTypes ...regulation.RegulationType) ([]*regulation.Result, error) {
	if rctx == nil {
		return nil, errors.NewValidationError("NIL_CONTEXT", "regulation context cannot be nil")
	}

	now := e.clock.Now()
	applicable := e.applicableRules(rctx.ServiceRole, now, regulationTypes)

	e.logger.Debug("enforcing regulations",
		zap.String("context_id", rctx.ContextID),
		zap.String("service_role", string(rctx.ServiceRole)),
		zap.Int("applicable_rules", len(applicable)))

	started := time.Now()
	results := make([]*regulation.Result, 0, len(applicable))
	for _, rule := range applicable {
		results = append(results, e.checkRule(ctx, rule, rctx))
	}
	e.metrics.ObserveEnforcement(ctx, time.Since(started).Seconds(), len(applicable))
	return results, nil
}

// CheckCompliance evaluates a single registered rule against the context.
// Unknown rule ids raise; this is a must-succeed operation.
func (e *Engine) CheckCompliance(ctx context.Context, ruleID string, rctx *regulation.Context) (*regulation.Result, error) {
	e.mu.RLock()
	rule, ok := e.rules[ruleID]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.ErrRuleNotFound
	}
	return e.checkRule(ctx, rule, rctx), nil
}

// ResolveViolation stamps resolution fields on an active violation, moves it
// to the bounded resolved history, and removes it from the active map.
// Returns false for unknown ids; resolving is a try operation.
func (e *Engine) ResolveViolation(violationID, notes, resolvedBy string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	violation, ok := e.activeViolations[violationID]
	if !ok {
		return false
	}
	violation.Resolution = &regulation.Resolution{
		ResolvedAt: e.clock.Now(),
		ResolvedBy: resolvedBy,
		Notes:      notes,
	}
	delete(e.activeViolations, violationID)

	e.resolved = append(e.resolved, violation)
	if len(e.resolved) > e.resolvedCapacity {
		e.resolved = e.resolved[len(e.resolved)-e.resolvedCapacity:]
	}

	e.logger.Info("violation resolved",
		zap.String("violation_id", violationID),
		zap.String("resolved_by", resolvedBy))
	return true
}

// ActiveViolations returns a snapshot of unresolved violations.
func (e *Engine) ActiveViolations() []*regulation.Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*regulation.Violation, 0, len(e.activeViolations))
	for _, v := range e.activeViolations {
		out = append(out, v)
	}
	return out
}

// GetComplianceStatus aggregates the compliance rate over recorded checks,
// optionally filtered by service role and regulation type, plus active
// violation counts by severity.
func (e *Engine) GetComplianceStatus(serviceRole regulation.ServiceRole, regulationType regulation.RegulationType) *regulation.StatusSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	summary := &regulation.StatusSummary{
		ViolationsBySeverity: make(map[regulation.ViolationSeverity]int),
		GeneratedAt:          e.clock.Now(),
	}

	for _, rec := range e.history {
		if serviceRole != "" && rec.result.ServiceRole != serviceRole {
			continue
		}
		if regulationType != "" && rec.result.RegulationType != regulationType {
			continue
		}
		summary.TotalChecks++
		if rec.result.Compliant {
			summary.CompliantChecks++
		}
	}
	if summary.TotalChecks > 0 {
		summary.ComplianceRate = float64(summary.CompliantChecks) / float64(summary.TotalChecks)
	}

	summary.ActiveViolations = len(e.activeViolations)
	for _, v := range e.activeViolations {
		summary.ViolationsBySeverity[v.Severity]++
	}
	return summary
}

// applicableRules selects enabled rules matching the type filter, service
// scope, and effective window, ordered critical-first with registration
// order breaking ties.
func (e *Engine) applicableRules(role regulation.ServiceRole, now time.Time, types []regulation.RegulationType) []*regulation.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	typeFilter := make(map[regulation.RegulationType]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}

	var applicable []*regulation.Rule
	for _, rule := range e.rules {
		if len(typeFilter) > 0 && !typeFilter[rule.RegulationType] {
			continue
		}
		if !rule.Scope.Matches(role) {
			continue
		}
		if !rule.ActiveAt(now) {
			continue
		}
		applicable = append(applicable, rule)
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		ri, rj := applicable[i].ComplianceLevel.Rank(), applicable[j].ComplianceLevel.Rank()
		if ri != rj {
			return ri < rj
		}
		return applicable[i].Seq < applicable[j].Seq
	})
	return applicable
}

// checkRule evaluates one rule's conditions with AND semantics and produces
// a single result, emitting a violation when the rule fails as a whole.
func (e *Engine) checkRule(ctx context.Context, rule *regulation.Rule, rctx *regulation.Context) *regulation.Result {
	now := e.clock.Now()
	passed := 0
	var failedMessages []string

	for _, cond := range rule.Conditions {
		ok, err := e.evaluateCondition(ctx, cond, rule, rctx)
		if err != nil {
			// A broken condition counts as failed; the rule keeps evaluating
			// so the score still reflects the remaining conditions.
			e.logger.Warn("condition evaluation error",
				zap.String("rule_id", rule.ID),
				zap.String("condition_type", string(cond.Type)),
				zap.Error(err))
			failedMessages = append(failedMessages, err.Error())
			continue
		}
		if ok {
			passed++
		} else {
			msg := cond.Message
			if msg == "" {
				msg = string(cond.Type) + " failed for field " + cond.Field
			}
			failedMessages = append(failedMessages, msg)
		}
	}

	total := len(rule.Conditions)
	score := 0.0
	if total > 0 {
		score = float64(passed) / float64(total)
	}
	compliant := passed == total

	result := &regulation.Result{
		RuleID:         rule.ID,
		RegulationType: rule.RegulationType,
		ServiceRole:    rctx.ServiceRole,
		Compliant:      compliant,
		Score:          score,
		CheckedAt:      now,
	}

	if !compliant {
		violation := &regulation.Violation{
			ViolationID: e.ids.NewID(),
			RuleID:      rule.ID,
			Severity:    regulation.SeverityForLevel(rule.ComplianceLevel),
			Message:     "rule " + rule.Name + " failed: " + joinMessages(failedMessages),
			Details: map[string]interface{}{
				"conditions_total":  total,
				"conditions_passed": passed,
			},
			Context:    *rctx,
			DetectedAt: now,
		}
		result.Violations = []*regulation.Violation{violation}
		result.Recommendations = rule.RemediationSteps
		e.recordViolation(ctx, violation)
	}

	e.recordResult(result)
	return result
}

func (e *Engine) evaluateCondition(ctx context.Context, cond regulation.Condition, rule *regulation.Rule, rctx *regulation.Context) (bool, error) {
	switch cond.Type {
	case regulation.ConditionFieldExists:
		return fieldpath.Exists(rctx.Data, cond.Field), nil

	case regulation.ConditionFieldEquals:
		v, ok := fieldpath.Lookup(rctx.Data, cond.Field)
		if !ok {
			return false, nil
		}
		return fieldpath.Equal(v, cond.Value), nil

	case regulation.ConditionFieldRegex:
		v, ok := fieldpath.Lookup(rctx.Data, cond.Field)
		if !ok {
			return false, nil
		}
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return false, errors.NewValidationError("INVALID_PATTERN",
				"invalid regex pattern in rule "+rule.ID).WithCause(err)
		}
		return re.MatchString(s), nil

	case regulation.ConditionFieldRange:
		v, ok := fieldpath.Lookup(rctx.Data, cond.Field)
		if !ok {
			return false, nil
		}
		n, ok := fieldpath.AsFloat(v)
		if !ok {
			return false, nil
		}
		if cond.Min != nil && n < *cond.Min {
			return false, nil
		}
		if cond.Max != nil && n > *cond.Max {
			return false, nil
		}
		return true, nil

	case regulation.ConditionCustom:
		e.mu.RLock()
		validator, ok := e.customValidators[cond.Validator]
		e.mu.RUnlock()
		if !ok {
			return false, errors.NewValidationError("UNKNOWN_VALIDATOR",
				"no custom validator registered for key "+cond.Validator)
		}
		return validator.Evaluate(ctx, rule, rctx)

	default:
		return false, errors.NewValidationError("UNKNOWN_CONDITION_TYPE",
			"unsupported condition type: "+string(cond.Type))
	}
}

// recordViolation stores the violation, emits the bus event, and dispatches
// alerts for critical severities. Collaborator failures are logged only.
func (e *Engine) recordViolation(ctx context.Context, v *regulation.Violation) {
	e.mu.Lock()
	e.activeViolations[v.ViolationID] = v
	e.mu.Unlock()

	e.metrics.RecordViolation(ctx, string(v.Severity))

	payload := map[string]interface{}{
		"violation_id": v.ViolationID,
		"rule_id":      v.RuleID,
		"severity":     string(v.Severity),
		"message":      v.Message,
		"service_role": string(v.Context.ServiceRole),
		"detected_at":  v.DetectedAt.Format(time.RFC3339Nano),
	}

	if err := e.bus.Emit(ctx, "compliance.violation_detected", payload); err != nil {
		e.logger.Error("failed to emit violation event",
			zap.String("violation_id", v.ViolationID), zap.Error(err))
	}

	if err := e.notifier.SendViolationAlert(ctx, payload); err != nil {
		e.logger.Error("failed to send violation alert",
			zap.String("violation_id", v.ViolationID), zap.Error(err))
	}
	if v.Severity == regulation.SeverityCritical {
		if err := e.notifier.SendCriticalComplianceAlert(ctx, payload); err != nil {
			e.logger.Error("failed to send critical compliance alert",
				zap.String("violation_id", v.ViolationID), zap.Error(err))
		}
	}
}

func (e *Engine) recordResult(result *regulation.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, historyRecord{result: result})
	if len(e.history) > e.historyCapacity {
		e.history = e.history[len(e.history)-e.historyCapacity:]
	}
}

func joinMessages(msgs []string) string {
	switch len(msgs) {
	case 0:
		return ""
	case 1:
		return msgs[0]
	}
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}
