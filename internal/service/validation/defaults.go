package validation

import (
	"context"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/fieldpath"
)

// Rule ids for the built-in default rule set.
const (
	RuleSIToAPPHandoff   = "si_to_app_handoff"
	RuleAPPToSIResponse  = "app_to_si_response"
	RuleCertificateChain = "certificate_chain_integrity"

	certificateChainKey    = "certificate_chain"
	certificateChainMinLen = 64
)

// DefaultSIToAPPHandoffRule is the built-in invoice handoff rule: the SI
// payload must carry the invoice number, IRN, and schema validation flag,
// and its total must match the recomputed total from validation.
func DefaultSIToAPPHandoffRule() *validation.Rule {
	return &validation.Rule{
		ID:             RuleSIToAPPHandoff,
		Name:           "SI to APP Invoice Handoff",
		ValidationType: validation.TypeDataCompleteness,
		Scope:          validation.ScopeSIToAPP,
		Phase:          validation.PhaseHandoff,
		Severity:       validation.SeverityCritical,
		Conditions: []validation.Condition{
			{Type: validation.ConditionFieldRequired, Field: "si_data.invoice_number"},
			{Type: validation.ConditionFieldRequired, Field: "si_data.irn"},
			{Type: validation.ConditionFieldRequired, Field: "validation_results.schema_valid"},
			{
				Type:       validation.ConditionDataIntegrity,
				Field:      "si_data.total_amount",
				OtherField: "validation_results.calculated_total",
				Message:    "invoice total does not match validated total",
			},
		},
		Enabled: true,
	}
}

// DefaultAPPToSIResponseRule is the built-in transmission response rule.
func DefaultAPPToSIResponseRule() *validation.Rule {
	return &validation.Rule{
		ID:             RuleAPPToSIResponse,
		Name:           "APP to SI Transmission Response",
		ValidationType: validation.TypeTransmission,
		Scope:          validation.ScopeAPPToSI,
		Phase:          validation.PhaseResponse,
		Severity:       validation.SeverityHigh,
		Conditions: []validation.Condition{
			{Type: validation.ConditionFieldRequired, Field: "transmission_status"},
			{Type: validation.ConditionFieldRequired, Field: "firs_response_code"},
		},
		Enabled: true,
	}
}

// DefaultCertificateChainRule is the built-in bidirectional security rule.
// Its custom condition dispatches to the certificate-chain validator, which
// the constructor registers under the same key.
func DefaultCertificateChainRule() *validation.Rule {
	return &validation.Rule{
		ID:             RuleCertificateChain,
		Name:           "Certificate Chain Integrity",
		ValidationType: validation.TypeSecurity,
		Scope:          validation.ScopeBidirectional,
		Phase:          validation.PhaseTransmission,
		Severity:       validation.SeverityCritical,
		Conditions: []validation.Condition{
			{Type: validation.ConditionFieldRequired, Field: "certificate"},
			{
				Type:      validation.ConditionCustom,
				Validator: certificateChainKey,
				Message:   "certificate chain failed verification",
			},
		},
		Enabled: true,
	}
}

// RegisterDefaultRules registers the full built-in rule set.
func (v *Validator) RegisterDefaultRules() {
	for _, rule := range []*validation.Rule{
		DefaultSIToAPPHandoffRule(),
		DefaultAPPToSIResponseRule(),
		DefaultCertificateChainRule(),
	} {
		if err := v.RegisterValidationRule(rule); err != nil {
			v.logger.Error("failed to register default validation rule",
				zap.String("rule_id", rule.ID), zap.Error(err))
		}
	}
}

// certificateChainValidator accepts payloads whose certificate field is a
// non-trivial PEM-looking string. Full X.509 chain verification lives with
// the transmission services; this guards the handoff boundary only.
func certificateChainValidator(_ context.Context, _ *validation.Rule, vctx *validation.Context) (bool, error) {
	val, ok := fieldpath.Lookup(vctx.Data, "certificate")
	if !ok {
		return false, nil
	}
	cert, ok := val.(string)
	if !ok {
		return false, nil
	}
	return len(cert) >= certificateChainMinLen, nil
}
