package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the compliance-domain metrics for the application
type Registry struct {
	meter metric.Meter

	// Regulation metrics
	EnforcementDuration metric.Float64Histogram
	ViolationCounter    metric.Int64Counter
	ComplianceChecks    metric.Int64Counter

	// Validation metrics
	ValidationDuration metric.Float64Histogram
	ValidationIssues   metric.Int64Counter

	// Workflow metrics
	ExecutionDuration metric.Float64Histogram
	PhaseFailures     metric.Int64Counter

	// Audit metrics
	AuditEventCounter   metric.Int64Counter
	AuditSessionCounter metric.Int64Counter

	// Regulatory tracker metrics
	MilestoneProgress metric.Float64Histogram
	RegulatoryChanges metric.Int64Counter
}

// NewRegistry creates a new metrics registry with all compliance metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error
	if r.EnforcementDuration, err = meter.Float64Histogram("regulation.enforcement.duration",
		metric.WithDescription("Duration of regulation enforcement passes in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.ViolationCounter, err = meter.Int64Counter("regulation.violations",
		metric.WithDescription("Compliance violations detected")); err != nil {
		return nil, err
	}
	if r.ComplianceChecks, err = meter.Int64Counter("regulation.checks",
		metric.WithDescription("Rule checks performed")); err != nil {
		return nil, err
	}
	if r.ValidationDuration, err = meter.Float64Histogram("validation.duration",
		metric.WithDescription("Duration of cross-role validation passes in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.ValidationIssues, err = meter.Int64Counter("validation.issues",
		metric.WithDescription("Validation issues detected")); err != nil {
		return nil, err
	}
	if r.ExecutionDuration, err = meter.Float64Histogram("workflow.execution.duration",
		metric.WithDescription("Duration of compliance workflow executions in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.PhaseFailures, err = meter.Int64Counter("workflow.phase.failures",
		metric.WithDescription("Workflow phase handler failures")); err != nil {
		return nil, err
	}
	if r.AuditEventCounter, err = meter.Int64Counter("audit.events",
		metric.WithDescription("Audit events logged")); err != nil {
		return nil, err
	}
	if r.AuditSessionCounter, err = meter.Int64Counter("audit.sessions",
		metric.WithDescription("Audit sessions initiated")); err != nil {
		return nil, err
	}
	if r.MilestoneProgress, err = meter.Float64Histogram("grant.milestone.progress",
		metric.WithDescription("FIRS grant milestone progress percentage")); err != nil {
		return nil, err
	}
	if r.RegulatoryChanges, err = meter.Int64Counter("regulatory.changes",
		metric.WithDescription("Regulatory changes registered")); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordViolation increments the violation counter tagged by severity.
func (r *Registry) RecordViolation(ctx context.Context, severity string) {
	if r == nil {
		return
	}
	r.ViolationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordAuditEvent increments the audit event counter tagged by type.
func (r *Registry) RecordAuditEvent(ctx context.Context, eventType string) {
	if r == nil {
		return
	}
	r.AuditEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ObserveEnforcement records one enforcement pass.
func (r *Registry) ObserveEnforcement(ctx context.Context, seconds float64, checks int) {
	if r == nil {
		return
	}
	r.EnforcementDuration.Record(ctx, seconds)
	r.ComplianceChecks.Add(ctx, int64(checks))
}

// ObserveValidation records one cross-role validation pass.
func (r *Registry) ObserveValidation(ctx context.Context, seconds float64, issues int, status string) {
	if r == nil {
		return
	}
	r.ValidationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	r.ValidationIssues.Add(ctx, int64(issues))
}

// ObserveExecution records one finished workflow execution.
func (r *Registry) ObserveExecution(ctx context.Context, seconds float64, status string) {
	if r == nil {
		return
	}
	r.ExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPhaseFailure increments the phase failure counter tagged by phase.
func (r *Registry) RecordPhaseFailure(ctx context.Context, phase string) {
	if r == nil {
		return
	}
	r.PhaseFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordSession increments the session counter tagged by session type.
func (r *Registry) RecordSession(ctx context.Context, sessionType string) {
	if r == nil {
		return
	}
	r.AuditSessionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", sessionType)))
}

// ObserveMilestone records a milestone progress assessment.
func (r *Registry) ObserveMilestone(ctx context.Context, milestone int, progress float64) {
	if r == nil {
		return
	}
	r.MilestoneProgress.Record(ctx, progress, metric.WithAttributes(attribute.Int("milestone", milestone)))
}

// RecordRegulatoryChange increments the change counter tagged by source.
func (r *Registry) RecordRegulatoryChange(ctx context.Context, source string) {
	if r == nil {
		return
	}
	r.RegulatoryChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
