package validation

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/fieldpath"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
)

// Validator checks data and control handoffs between service roles against
// registered validation rules. Each validation pass is stateless apart from
// the bounded result history.
type Validator struct {
	logger   *zap.Logger
	bus      events.Bus
	notifier notification.Notifier
	clock    clock.Clock
	ids      clock.IDGenerator
	metrics  *metrics.Registry

	mu               sync.RWMutex
	rules            map[string]*validation.Rule
	ruleSeq          int64
	customValidators map[string]CustomValidator
	schemas          map[string]*validation.Schema
	history          []*validation.Result
	historyCapacity  int
}

// Option configures the validator.
type Option func(*Validator)

// WithClock overrides the validator clock.
func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithIDGenerator overrides the validator id generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(v *Validator) { v.ids = g }
}

// WithHistoryCapacity bounds the result history ring.
func WithHistoryCapacity(n int) Option {
	return func(v *Validator) { v.historyCapacity = n }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a cross-role validator. The certificate-chain
// validator is pre-registered under the key the default bidirectional rule
// references; the default rules themselves are added via
// RegisterDefaultRules.
func NewValidator(logger *zap.Logger, bus events.Bus, notifier notification.Notifier, opts ...Option) *Validator {
	v := &Validator{
		logger:           logger,
		bus:              bus,
		notifier:         notifier,
		clock:            clock.RealClock{},
		ids:              clock.UUIDGenerator{},
		rules:            make(map[string]*validation.Rule),
		customValidators: make(map[string]CustomValidator),
		schemas:          make(map[string]*validation.Schema),
		historyCapacity:  1000,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.customValidators[certificateChainKey] = CustomValidatorFunc(certificateChainValidator)
	return v
}

// RegisterValidationRule validates and stores a rule.
func (v *Validator) RegisterValidationRule(rule *validation.Rule) error {
	if rule == nil {
		return errors.NewValidationError("NIL_RULE", "validation rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.rules[rule.ID]; exists {
		return errors.NewConflictError("validation rule already registered: " + rule.ID)
	}
	v.ruleSeq++
	rule.Seq = v.ruleSeq
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = v.clock.Now()
	}
	v.rules[rule.ID] = rule

	v.logger.Info("validation rule registered",
		zap.String("rule_id", rule.ID),
		zap.String("scope", string(rule.Scope)),
		zap.String("severity", string(rule.Severity)))
	return nil
}

// RegisterCustomValidator binds a validator implementation to a key that
// custom conditions can reference.
func (v *Validator) RegisterCustomValidator(key string, cv CustomValidator) error {
	if key == "" {
		return errors.NewValidationError("MISSING_VALIDATOR_KEY", "validator key is required")
	}
	if cv == nil {
		return errors.NewValidationError("NIL_VALIDATOR", "validator cannot be nil")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.customValidators[key] = cv
	return nil
}

// RegisterSchema stores a named payload schema for compliance checks.
func (v *Validator) RegisterSchema(schema *validation.Schema) error {
	if schema == nil || schema.Name == "" {
		return errors.NewValidationError("INVALID_SCHEMA", "schema with a name is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[schema.Name] = schema
	return nil
}

// RuleIDs returns the ids of all registered validation rules.
func (v *Validator) RuleIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.rules))
	for id := range v.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateCrossRoleData runs every applicable rule against the handoff
// context, most severe first, and produces one scored result. A rule whose
// evaluation blows up is isolated into a synthetic high-severity issue
// rather than failing the pass.
func (v *Validator) ValidateCrossRoleData(ctx context.Context, vctx *validation.Context, validationTypes ...validation.ValidationType) (*validation.Result, error) {
	if vctx == nil {
		return nil, errors.NewValidationError("NIL_CONTEXT", "validation context cannot be nil")
	}

	started := time.Now()
	now := v.clock.Now()
	applicable := v.applicableRules(vctx, validationTypes)

	v.logger.Debug("validating cross-role handoff",
		zap.String("context_id", vctx.ContextID),
		zap.String("source_role", string(vctx.SourceRole)),
		zap.String("target_role", string(vctx.TargetRole)),
		zap.Int("applicable_rules", len(applicable)))

	var issues []*validation.Issue
	for _, rule := range applicable {
		ruleIssues, err := v.checkRule(ctx, rule, vctx)
		if err != nil {
			v.logger.Error("validation rule execution failed",
				zap.String("rule_id", rule.ID), zap.Error(err))
			issues = append(issues, &validation.Issue{
				IssueID:    v.ids.NewID(),
				RuleID:     rule.ID,
				Type:       validation.IssueRuleExecutionError,
				Severity:   validation.SeverityHigh,
				Message:    "rule execution failed: " + err.Error(),
				DetectedAt: now,
			})
			continue
		}
		issues = append(issues, ruleIssues...)
	}

	result := &validation.Result{
		ValidationID: v.ids.NewID(),
		ContextID:    vctx.ContextID,
		Status:       validation.DeriveStatus(len(applicable), issues),
		Score:        scoreIssues(len(applicable), issues),
		Issues:       issues,
		RulesChecked: len(applicable),
		ValidatedAt:  now,
	}

	v.recordResult(result)
	v.publishOutcome(ctx, vctx, result)
	v.metrics.ObserveValidation(ctx, time.Since(started).Seconds(), len(issues), string(result.Status))
	return result, nil
}

// scoreIssues deducts severity weights from a perfect score, normalized by
// the number of rules checked and floored at zero.
func scoreIssues(rulesChecked int, issues []*validation.Issue) float64 {
	if rulesChecked == 0 {
		return 1.0
	}
	deduction := 0.0
	for _, issue := range issues {
		deduction += issue.Severity.Weight()
	}
	score := 1.0 - deduction/float64(rulesChecked)
	if score < 0 {
		return 0
	}
	return score
}

// applicableRules selects enabled rules matching the type filter, handoff
// direction, and phase, ordered most severe first with registration order
// breaking ties.
func (v *Validator) applicableRules(vctx *validation.Context, types []validation.ValidationType) []*validation.Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()

	typeFilter := make(map[validation.ValidationType]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}

	var applicable []*validation.Rule
	for _, rule := range v.rules {
		if !rule.Enabled {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[rule.ValidationType] {
			continue
		}
		if !rule.Scope.Matches(vctx.SourceRole, vctx.TargetRole) {
			continue
		}
		if vctx.Phase != "" && rule.Phase != "" && rule.Phase != vctx.Phase {
			continue
		}
		applicable = append(applicable, rule)
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		ri, rj := applicable[i].Severity.Rank(), applicable[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return applicable[i].Seq < applicable[j].Seq
	})
	return applicable
}

// checkRule evaluates every condition of one rule, producing one issue per
// failed condition at the rule's severity.
func (v *Validator) checkRule(ctx context.Context, rule *validation.Rule, vctx *validation.Context) ([]*validation.Issue, error) {
	now := v.clock.Now()
	var issues []*validation.Issue

	for _, cond := range rule.Conditions {
		issue, err := v.evaluateCondition(ctx, cond, rule, vctx)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			issue.IssueID = v.ids.NewID()
			issue.RuleID = rule.ID
			issue.Severity = rule.Severity
			issue.DetectedAt = now
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// evaluateCondition returns a nil issue when the condition holds.
func (v *Validator) evaluateCondition(ctx context.Context, cond validation.Condition, rule *validation.Rule, vctx *validation.Context) (*validation.Issue, error) {
	switch cond.Type {
	case validation.ConditionFieldRequired:
		if fieldpath.Exists(vctx.Data, cond.Field) {
			return nil, nil
		}
		return &validation.Issue{
			Type:    validation.IssueFieldMissing,
			Message: messageOr(cond, "required field missing: "+cond.Field),
			Field:   cond.Field,
		}, nil

	case validation.ConditionFieldFormat:
		val, ok := fieldpath.Lookup(vctx.Data, cond.Field)
		if !ok {
			return &validation.Issue{
				Type:    validation.IssueFieldMissing,
				Message: messageOr(cond, "field missing for format check: "+cond.Field),
				Field:   cond.Field,
			}, nil
		}
		s, ok := val.(string)
		if !ok {
			return &validation.Issue{
				Type:    validation.IssueFieldFormat,
				Message: messageOr(cond, "field is not a string: "+cond.Field),
				Field:   cond.Field,
				Actual:  val,
			}, nil
		}
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_PATTERN",
				"invalid format pattern in rule "+rule.ID).WithCause(err)
		}
		if re.MatchString(s) {
			return nil, nil
		}
		return &validation.Issue{
			Type:     validation.IssueFieldFormat,
			Message:  messageOr(cond, "field format mismatch: "+cond.Field),
			Field:    cond.Field,
			Expected: cond.Pattern,
			Actual:   s,
		}, nil

	case validation.ConditionFieldEquals:
		val, ok := fieldpath.Lookup(vctx.Data, cond.Field)
		if !ok || !fieldpath.Equal(val, cond.Value) {
			return &validation.Issue{
				Type:     validation.IssueFieldMismatch,
				Message:  messageOr(cond, "field value mismatch: "+cond.Field),
				Field:    cond.Field,
				Expected: cond.Value,
				Actual:   val,
			}, nil
		}
		return nil, nil

	case validation.ConditionDataIntegrity:
		left, lok := fieldpath.Lookup(vctx.Data, cond.Field)
		right, rok := fieldpath.Lookup(vctx.Data, cond.OtherField)
		if lok && rok && fieldpath.Equal(left, right) {
			return nil, nil
		}
		return &validation.Issue{
			Type:     validation.IssueIntegrityMismatch,
			Message:  messageOr(cond, "data integrity mismatch between "+cond.Field+" and "+cond.OtherField),
			Field:    cond.Field,
			Expected: right,
			Actual:   left,
		}, nil

	case validation.ConditionCustom:
		v.mu.RLock()
		cv, ok := v.customValidators[cond.Validator]
		v.mu.RUnlock()
		if !ok {
			return nil, errors.NewValidationError("UNKNOWN_VALIDATOR",
				"no custom validator registered for key "+cond.Validator)
		}
		passed, err := cv.Evaluate(ctx, rule, vctx)
		if err != nil {
			return nil, err
		}
		if passed {
			return nil, nil
		}
		return &validation.Issue{
			Type:    validation.IssueSchemaViolation,
			Message: messageOr(cond, "custom validation failed: "+cond.Validator),
		}, nil

	default:
		return nil, errors.NewValidationError("UNKNOWN_CONDITION_TYPE",
			"unsupported condition type: "+string(cond.Type))
	}
}

// publishOutcome emits the validation event and escalates failed passes.
// Collaborator failures are logged only.
func (v *Validator) publishOutcome(ctx context.Context, vctx *validation.Context, result *validation.Result) {
	payload := map[string]interface{}{
		"validation_id": result.ValidationID,
		"context_id":    result.ContextID,
		"status":        string(result.Status),
		"score":         result.Score,
		"issue_count":   len(result.Issues),
		"source_role":   string(vctx.SourceRole),
		"target_role":   string(vctx.TargetRole),
	}
	if err := v.bus.Emit(ctx, "validation.completed", payload); err != nil {
		v.logger.Error("failed to emit validation event",
			zap.String("validation_id", result.ValidationID), zap.Error(err))
	}
	if result.Status == validation.StatusFailed {
		if err := v.notifier.SendCriticalValidationAlert(ctx, payload); err != nil {
			v.logger.Error("failed to send critical validation alert",
				zap.String("validation_id", result.ValidationID), zap.Error(err))
		}
	}
}

func (v *Validator) recordResult(result *validation.Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history = append(v.history, result)
	if len(v.history) > v.historyCapacity {
		v.history = v.history[len(v.history)-v.historyCapacity:]
	}
}

// History returns a snapshot of recorded validation results.
func (v *Validator) History() []*validation.Result {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*validation.Result, len(v.history))
	copy(out, v.history)
	return out
}

func messageOr(cond validation.Condition, fallback string) string {
	if cond.Message != "" {
		return cond.Message
	}
	return fallback
}
