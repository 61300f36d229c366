package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
)

func newTestValidator(t *testing.T) (*Validator, *events.MemoryBus, *notification.Recorder) {
	t.Helper()
	bus := events.NewMemoryBus()
	recorder := notification.NewRecorder()
	v := NewValidator(zap.NewNop(), bus, recorder,
		WithClock(clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))),
		WithIDGenerator(clock.NewSequenceGenerator("val")))
	return v, bus, recorder
}

func handoffContext(total, calculated interface{}) *validation.Context {
	return &validation.Context{
		ContextID:  "handoff-1",
		SourceRole: regulation.RoleSI,
		TargetRole: regulation.RoleAPP,
		Phase:      validation.PhaseHandoff,
		Data: map[string]interface{}{
			"si_data": map[string]interface{}{
				"invoice_number": "X",
				"irn":            "Y",
			},
			"validation_results": map[string]interface{}{
				"schema_valid":     true,
				"calculated_total": calculated,
			},
			"si_data.total_amount": total,
		},
	}
}

func TestHandoffValidationPasses(t *testing.T) {
	v, bus, _ := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(DefaultSIToAPPHandoffRule()))

	result, err := v.ValidateCrossRoleData(context.Background(), handoffContext(100, 100))
	require.NoError(t, err)

	assert.Equal(t, validation.StatusPassed, result.Status)
	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 1, result.RulesChecked)
	assert.Len(t, bus.EventsNamed("validation.completed"), 1)
}

func TestHandoffValidationTotalMismatch(t *testing.T) {
	v, _, recorder := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(DefaultSIToAPPHandoffRule()))

	result, err := v.ValidateCrossRoleData(context.Background(), handoffContext(100, 90))
	require.NoError(t, err)

	assert.Equal(t, validation.StatusFailed, result.Status)
	assert.Equal(t, 0.0, result.Score, "one rule checked, one full-weight deduction")
	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.IssueIntegrityMismatch, result.Issues[0].Type)
	assert.Equal(t, validation.SeverityCritical, result.Issues[0].Severity)
	assert.Len(t, recorder.ByType(notification.TypeCriticalValidation), 1)
}

func TestValidationScoreIdempotent(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(DefaultSIToAPPHandoffRule()))

	vctx := handoffContext(100, 90)
	first, err := v.ValidateCrossRoleData(context.Background(), vctx)
	require.NoError(t, err)
	second, err := v.ValidateCrossRoleData(context.Background(), vctx)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Status, second.Status)
	require.Len(t, second.Issues, len(first.Issues))
	for i := range first.Issues {
		assert.Equal(t, first.Issues[i].Type, second.Issues[i].Type)
		assert.Equal(t, first.Issues[i].Field, second.Issues[i].Field)
	}
}

func TestValidationScopeMatrix(t *testing.T) {
	tests := []struct {
		scope   validation.Scope
		source  regulation.ServiceRole
		target  regulation.ServiceRole
		matches bool
	}{
		{validation.ScopeSIToAPP, regulation.RoleSI, regulation.RoleAPP, true},
		{validation.ScopeSIToAPP, regulation.RoleAPP, regulation.RoleSI, false},
		{validation.ScopeAPPToSI, regulation.RoleAPP, regulation.RoleSI, true},
		{validation.ScopeAPPToSI, regulation.RoleSI, regulation.RoleAPP, false},
		{validation.ScopeBidirectional, regulation.RoleSI, regulation.RoleAPP, true},
		{validation.ScopeBidirectional, regulation.RoleHybrid, regulation.RoleHybrid, true},
		{validation.ScopeInternal, regulation.RoleSI, regulation.RoleSI, true},
		{validation.ScopeInternal, regulation.RoleSI, regulation.RoleAPP, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.matches, tt.scope.Matches(tt.source, tt.target),
			"scope %s source %s target %s", tt.scope, tt.source, tt.target)
	}
}

func TestNoApplicableRulesSkipped(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(DefaultSIToAPPHandoffRule()))

	result, err := v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "app-internal",
		SourceRole: regulation.RoleAPP,
		TargetRole: regulation.RoleAPP,
		Data:       map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.StatusSkipped, result.Status)
	assert.Equal(t, 0, result.RulesChecked)
	assert.Equal(t, 1.0, result.Score)
}

func TestValidationTypeFilter(t *testing.T) {
	v, _, _ := newTestValidator(t)
	v.RegisterDefaultRules()

	result, err := v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "resp-1",
		SourceRole: regulation.RoleAPP,
		TargetRole: regulation.RoleSI,
		Phase:      validation.PhaseResponse,
		Data: map[string]interface{}{
			"transmission_status": "delivered",
			"firs_response_code":  "00",
		},
	}, validation.TypeTransmission)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesChecked)
	assert.Equal(t, validation.StatusPassed, result.Status)
}

func TestRuleExecutionFaultIsolation(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterCustomValidator("always_errors",
		CustomValidatorFunc(func(context.Context, *validation.Rule, *validation.Context) (bool, error) {
			return false, errors.NewInternalError("validator blew up")
		})))

	require.NoError(t, v.RegisterValidationRule(&validation.Rule{
		ID:             "exploding_rule",
		Name:           "Exploding Rule",
		ValidationType: validation.TypeSecurity,
		Scope:          validation.ScopeBidirectional,
		Severity:       validation.SeverityCritical,
		Conditions: []validation.Condition{
			{Type: validation.ConditionCustom, Validator: "always_errors"},
		},
		Enabled: true,
	}))
	require.NoError(t, v.RegisterValidationRule(&validation.Rule{
		ID:             "healthy_rule",
		Name:           "Healthy Rule",
		ValidationType: validation.TypeDataCompleteness,
		Scope:          validation.ScopeBidirectional,
		Severity:       validation.SeverityMedium,
		Conditions: []validation.Condition{
			{Type: validation.ConditionFieldRequired, Field: "payload"},
		},
		Enabled: true,
	}))

	result, err := v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "isolation-1",
		SourceRole: regulation.RoleSI,
		TargetRole: regulation.RoleAPP,
		Data:       map[string]interface{}{"payload": "x"},
	})
	require.NoError(t, err, "a broken rule must not abort the pass")

	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.IssueRuleExecutionError, result.Issues[0].Type)
	assert.Equal(t, validation.SeverityHigh, result.Issues[0].Severity)
	assert.Equal(t, "exploding_rule", result.Issues[0].RuleID)
	assert.Equal(t, 2, result.RulesChecked)
	// 1 - 0.7/2
	assert.InDelta(t, 0.65, result.Score, 1e-9)
}

func TestSeverityWeightedScoreFloor(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(&validation.Rule{
		ID:             "multi_condition",
		Name:           "Multi Condition",
		ValidationType: validation.TypeDataCompleteness,
		Scope:          validation.ScopeBidirectional,
		Severity:       validation.SeverityCritical,
		Conditions: []validation.Condition{
			{Type: validation.ConditionFieldRequired, Field: "a"},
			{Type: validation.ConditionFieldRequired, Field: "b"},
			{Type: validation.ConditionFieldRequired, Field: "c"},
		},
		Enabled: true,
	}))

	result, err := v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "floor-1",
		SourceRole: regulation.RoleSI,
		TargetRole: regulation.RoleAPP,
		Data:       map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 3)
	assert.Equal(t, 0.0, result.Score, "deductions beyond the max are floored at zero")
}

func TestCertificateChainRule(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterValidationRule(DefaultCertificateChainRule()))

	longCert := "-----BEGIN CERTIFICATE-----MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8A-----END CERTIFICATE-----"
	result, err := v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "cert-1",
		SourceRole: regulation.RoleAPP,
		TargetRole: regulation.RoleSI,
		Phase:      validation.PhaseTransmission,
		Data:       map[string]interface{}{"certificate": longCert},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.StatusPassed, result.Status)

	result, err = v.ValidateCrossRoleData(context.Background(), &validation.Context{
		ContextID:  "cert-2",
		SourceRole: regulation.RoleAPP,
		TargetRole: regulation.RoleSI,
		Phase:      validation.PhaseTransmission,
		Data:       map[string]interface{}{"certificate": "stub"},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.StatusFailed, result.Status)
}

func TestDataIntegrityKeyOrderInsensitive(t *testing.T) {
	v, _, _ := newTestValidator(t)

	source := map[string]interface{}{
		"invoice_number": "INV-1",
		"total":          100.0,
		"timestamp":      "2026-01-01T00:00:00Z",
		"nested":         map[string]interface{}{"a": 1.0, "id": "src-id"},
	}
	// Same logical mapping, different construction order, different volatile fields.
	target := map[string]interface{}{}
	target["nested"] = map[string]interface{}{"id": "dst-id", "a": 1.0}
	target["total"] = 100.0
	target["invoice_number"] = "INV-1"
	target["timestamp"] = "2026-02-02T00:00:00Z"

	check := v.ValidateDataIntegrity(source, target)
	assert.True(t, check.IntegrityVerified)
	assert.Equal(t, check.SourceHash, check.TargetHash)
	assert.Nil(t, check.Differences)
}

func TestDataIntegrityDiff(t *testing.T) {
	v, _, _ := newTestValidator(t)

	source := map[string]interface{}{
		"invoice_number": "INV-1",
		"total":          100.0,
		"only_in_source": true,
	}
	target := map[string]interface{}{
		"invoice_number": "INV-1",
		"total":          90.0,
		"only_in_target": true,
	}

	check := v.ValidateDataIntegrity(source, target)
	assert.False(t, check.IntegrityVerified)
	require.NotNil(t, check.Differences)
	assert.Equal(t, []string{"only_in_source"}, check.Differences.MissingInTarget)
	assert.Equal(t, []string{"only_in_target"}, check.Differences.MissingInSource)
	require.Contains(t, check.Differences.ValueMismatch, "total")
	assert.Equal(t, 100.0, check.Differences.ValueMismatch["total"].Source)
	assert.Equal(t, 90.0, check.Differences.ValueMismatch["total"].Target)
}

func TestDataIntegrityCustomExcludeFields(t *testing.T) {
	v, _, _ := newTestValidator(t)

	source := map[string]interface{}{"amount": 5.0, "trace_id": "abc"}
	target := map[string]interface{}{"amount": 5.0, "trace_id": "def"}

	check := v.ValidateDataIntegrity(source, target, "trace_id")
	assert.True(t, check.IntegrityVerified)
}

func TestSchemaCompliance(t *testing.T) {
	v, _, _ := newTestValidator(t)
	require.NoError(t, v.RegisterSchema(&validation.Schema{
		Name:     "firs_invoice",
		Required: []string{"invoice_number", "supplier_tin"},
		Properties: map[string]validation.PropertySpec{
			"invoice_number": {Type: "string"},
			"supplier_tin":   {Type: "string", Format: "tin"},
			"total_amount":   {Type: "number"},
			"line_items":     {Type: "array"},
		},
	}))

	t.Run("valid payload", func(t *testing.T) {
		issues, err := v.ValidateSchemaCompliance(map[string]interface{}{
			"invoice_number": "INV-1",
			"supplier_tin":   "12345678-0001",
			"total_amount":   100.5,
			"line_items":     []interface{}{},
		}, "firs_invoice", false)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("missing required is critical", func(t *testing.T) {
		issues, err := v.ValidateSchemaCompliance(map[string]interface{}{
			"invoice_number": "INV-1",
		}, "firs_invoice", false)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, validation.SeverityCritical, issues[0].Severity)
		assert.Equal(t, "supplier_tin", issues[0].Field)
	})

	t.Run("type and format mismatches", func(t *testing.T) {
		issues, err := v.ValidateSchemaCompliance(map[string]interface{}{
			"invoice_number": "INV-1",
			"supplier_tin":   "not-a-tin",
			"total_amount":   "one hundred",
		}, "firs_invoice", false)
		require.NoError(t, err)
		require.Len(t, issues, 2)
	})

	t.Run("strict mode flags undeclared fields", func(t *testing.T) {
		issues, err := v.ValidateSchemaCompliance(map[string]interface{}{
			"invoice_number": "INV-1",
			"supplier_tin":   "12345678-0001",
			"mystery_field":  42,
		}, "firs_invoice", true)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, validation.IssueUndeclaredField, issues[0].Type)
		assert.Equal(t, validation.SeverityMedium, issues[0].Severity)
	})

	t.Run("unknown schema raises", func(t *testing.T) {
		_, err := v.ValidateSchemaCompliance(map[string]interface{}{}, "nope", false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})
}

func TestSeverityOrderingCriticalFirst(t *testing.T) {
	v, _, _ := newTestValidator(t)

	low := &validation.Rule{
		ID: "low_first_registered", Name: "Low", ValidationType: validation.TypeDataFormat,
		Scope: validation.ScopeBidirectional, Severity: validation.SeverityLow,
		Conditions: []validation.Condition{{Type: validation.ConditionFieldRequired, Field: "x"}},
		Enabled:    true,
	}
	critical := &validation.Rule{
		ID: "critical_second", Name: "Critical", ValidationType: validation.TypeSecurity,
		Scope: validation.ScopeBidirectional, Severity: validation.SeverityCritical,
		Conditions: []validation.Condition{{Type: validation.ConditionFieldRequired, Field: "y"}},
		Enabled:    true,
	}
	require.NoError(t, v.RegisterValidationRule(low))
	require.NoError(t, v.RegisterValidationRule(critical))

	rules := v.applicableRules(&validation.Context{
		SourceRole: regulation.RoleSI,
		TargetRole: regulation.RoleAPP,
	}, nil)
	require.Len(t, rules, 2)
	assert.Equal(t, "critical_second", rules[0].ID)
	assert.Equal(t, "low_first_registered", rules[1].ID)
}

func TestDataIntegrityConditionOnObjectFields(t *testing.T) {
	v, _, _ := newTestValidator(t)

	rule := &validation.Rule{
		ID: "supplier_info_integrity", Name: "Supplier Info Integrity",
		ValidationType: validation.TypeDataIntegrity,
		Scope:          validation.ScopeSIToAPP,
		Severity:       validation.SeverityCritical,
		Conditions: []validation.Condition{{
			Type:       validation.ConditionDataIntegrity,
			Field:      "si_data.supplier_info",
			OtherField: "validation_results.supplier_info",
		}},
		Enabled: true,
	}
	require.NoError(t, v.RegisterValidationRule(rule))

	supplier := func(tin string) map[string]interface{} {
		return map[string]interface{}{"tin": tin, "name": "ACME"}
	}
	vctx := func(sourceTIN, targetTIN string) *validation.Context {
		return &validation.Context{
			ContextID:  "obj-integrity",
			SourceRole: regulation.RoleSI,
			TargetRole: regulation.RoleAPP,
			Data: map[string]interface{}{
				"si_data":            map[string]interface{}{"supplier_info": supplier(sourceTIN)},
				"validation_results": map[string]interface{}{"supplier_info": supplier(targetTIN)},
			},
		}
	}

	result, err := v.ValidateCrossRoleData(context.Background(), vctx("123", "123"))
	require.NoError(t, err)
	assert.Equal(t, validation.StatusPassed, result.Status)
	assert.Empty(t, result.Issues)

	result, err = v.ValidateCrossRoleData(context.Background(), vctx("123", "999"))
	require.NoError(t, err)
	assert.Equal(t, validation.StatusFailed, result.Status)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.IssueIntegrityMismatch, result.Issues[0].Type)
}
