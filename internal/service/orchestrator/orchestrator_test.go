package orchestrator

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
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/storage"
	regulationsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulation"
	validationsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/validation"
)

func newTestOrchestrator(t *testing.T, store storage.ExecutionStore) (*Orchestrator, *events.MemoryBus) {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewMemoryBus()
	recorder := notification.NewRecorder()
	mock := clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	engine := regulationsvc.NewEngine(logger, bus, recorder,
		regulationsvc.WithClock(mock),
		regulationsvc.WithIDGenerator(clock.NewSequenceGenerator("vio")))
	validator := validationsvc.NewValidator(logger, bus, recorder,
		validationsvc.WithClock(mock),
		validationsvc.WithIDGenerator(clock.NewSequenceGenerator("val")))
	validator.RegisterDefaultRules()

	if store == nil {
		store = storage.NewMemoryExecutionStore()
	}
	o := NewOrchestrator(logger, bus, engine, validator, store,
		WithClock(mock),
		WithIDGenerator(clock.NewSequenceGenerator("exec")))
	return o, bus
}

// failingSnapshotStore fails trail snapshot persistence, which fails the
// audit_trail_generation phase.
type failingSnapshotStore struct {
	*storage.MemoryExecutionStore
}

func (s *failingSnapshotStore) SaveTrailSnapshot(context.Context, *workflow.TrailSnapshot) error {
	return errors.NewInternalError("snapshot storage unavailable")
}

func handoffWorkflowContext() *workflow.Context {
	return &workflow.Context{
		ContextID:      "wctx-1",
		ServiceRole:    regulation.RoleSI,
		ServiceName:    "erp_integration",
		Operation:      "submit_invoice",
		TargetServices: []string{"app"},
		Data: map[string]interface{}{
			"si_data": map[string]interface{}{
				"invoice_number": "INV-1",
				"irn":            "IRN-001",
			},
			"validation_results": map[string]interface{}{
				"schema_valid":     true,
				"calculated_total": 100,
			},
			"si_data.total_amount": 100,
		},
	}
}

func TestSeededWorkflows(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ids := o.WorkflowIDs()
	assert.Contains(t, ids, WorkflowFullComplianceCheck)
	assert.Contains(t, ids, WorkflowCrossRoleValidation)
	assert.Contains(t, ids, WorkflowEmergencyCompliance)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	_, err := o.ExecuteComplianceWorkflow(context.Background(), "no_such_workflow", handoffWorkflowContext())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFullComplianceCheckCompletes(t *testing.T) {
	store := storage.NewMemoryExecutionStore()
	o, bus := newTestOrchestrator(t, store)

	exec, err := o.ExecuteFullComplianceCheck(context.Background(), handoffWorkflowContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	require.Len(t, exec.PhaseResults, 6)
	for _, pr := range exec.PhaseResults {
		assert.Equal(t, workflow.PhaseCompleted, pr.Status, "phase %s", pr.Phase)
	}
	assert.NotNil(t, exec.CompletedAt)

	// Snapshot and report persisted, execution saved, event emitted.
	assert.Len(t, store.Snapshots(), 1)
	assert.Len(t, store.Reports(), 1)
	saved, err := store.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, exec.ExecutionID, saved.ExecutionID)
	assert.Len(t, bus.EventsNamed("workflow.execution_completed"), 1)
}

func TestOverallScoreMeanOfReportingPhases(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	exec, err := o.ExecuteCrossRoleCompliance(context.Background(), handoffWorkflowContext())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, exec.Status)

	// Only cross_role_validation reports a score; preparation and reporting
	// do not and must be excluded from the mean.
	scored := 0
	for _, pr := range exec.PhaseResults {
		if pr.Score != nil {
			scored++
			assert.Equal(t, workflow.PhaseCrossRoleValidation, pr.Phase)
		}
	}
	assert.Equal(t, 1, scored)
	assert.Equal(t, 1.0, exec.OverallScore)
}

func TestStopOnFailurePolicy(t *testing.T) {
	t.Run("stop on failure skips remaining phases", func(t *testing.T) {
		store := &failingSnapshotStore{storage.NewMemoryExecutionStore()}
		o, _ := newTestOrchestrator(t, store)
		require.NoError(t, o.RegisterWorkflow(&workflow.Definition{
			WorkflowID: "strict_workflow",
			Name:       "Strict Workflow",
			Phases: []workflow.Phase{
				workflow.PhasePreparation,
				workflow.PhaseAuditTrailGeneration,
				workflow.PhaseReporting,
			},
			Priority:    workflow.PriorityNormal,
			RetryPolicy: workflow.RetryPolicy{StopOnFailure: true},
		}))

		exec, err := o.ExecuteComplianceWorkflow(context.Background(), "strict_workflow", handoffWorkflowContext())
		require.NoError(t, err)

		assert.Equal(t, workflow.StatusFailed, exec.Status)
		require.Len(t, exec.PhaseResults, 2, "reporting must not run after the failure")
		assert.Equal(t, workflow.PhaseFailed, exec.PhaseResults[1].Status)
		require.Len(t, exec.PhaseResults[1].Issues, 1)
		assert.Equal(t, "critical", exec.PhaseResults[1].Issues[0].Severity)
		assert.Equal(t, 1, exec.CriticalIssues)
	})

	t.Run("continue on failure yields partially completed", func(t *testing.T) {
		store := &failingSnapshotStore{storage.NewMemoryExecutionStore()}
		o, _ := newTestOrchestrator(t, store)
		require.NoError(t, o.RegisterWorkflow(&workflow.Definition{
			WorkflowID: "lenient_workflow",
			Name:       "Lenient Workflow",
			Phases: []workflow.Phase{
				workflow.PhasePreparation,
				workflow.PhaseAuditTrailGeneration,
				workflow.PhaseReporting,
			},
			Priority:    workflow.PriorityNormal,
			RetryPolicy: workflow.RetryPolicy{StopOnFailure: false},
		}))

		exec, err := o.ExecuteComplianceWorkflow(context.Background(), "lenient_workflow", handoffWorkflowContext())
		require.NoError(t, err)

		assert.Equal(t, workflow.StatusPartiallyCompleted, exec.Status)
		require.Len(t, exec.PhaseResults, 3, "all declared phases appear even after a failure")
		assert.Equal(t, workflow.PhaseCompleted, exec.PhaseResults[0].Status)
		assert.Equal(t, workflow.PhaseFailed, exec.PhaseResults[1].Status)
		assert.Equal(t, workflow.PhaseCompleted, exec.PhaseResults[2].Status)
	})
}

func TestRegulationEnforcementPhaseAggregatesViolations(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	require.NoError(t, o.engine.RegisterRegulationRule(&regulation.Rule{
		ID:              "strict_structure",
		Name:            "Strict Structure",
		RegulationType:  regulation.RegulationFIRSEInvoice,
		RuleType:        regulation.RuleTypeStructural,
		ComplianceLevel: regulation.LevelCritical,
		Scope:           regulation.ScopeAll,
		Conditions: []regulation.Condition{
			{Type: regulation.ConditionFieldExists, Field: "never_present"},
		},
		ValidationLogic: "field_presence",
		Enabled:         true,
	}))

	exec, err := o.ExecuteFullComplianceCheck(context.Background(), handoffWorkflowContext())
	require.NoError(t, err)

	var enforcement *workflow.PhaseResult
	for i := range exec.PhaseResults {
		if exec.PhaseResults[i].Phase == workflow.PhaseRegulationEnforcement {
			enforcement = &exec.PhaseResults[i]
		}
	}
	require.NotNil(t, enforcement)
	assert.Equal(t, workflow.PhaseCompleted, enforcement.Status)
	require.Len(t, enforcement.Issues, 1)
	assert.Equal(t, "compliance_violation", enforcement.Issues[0].Type)
	assert.Equal(t, "critical", enforcement.Issues[0].Severity)
	require.NotNil(t, enforcement.Score)
	assert.Equal(t, 0.0, *enforcement.Score)
	assert.True(t, exec.CriticalIssues >= 1)
}

func TestEmergencyComplianceSetsPriority(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	wctx := handoffWorkflowContext()
	exec, err := o.ExecuteEmergencyCompliance(context.Background(), wctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.PriorityEmergency, exec.Context.Priority)
	assert.Equal(t, WorkflowEmergencyCompliance, exec.WorkflowID)
}

func TestCancelExecution(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	assert.False(t, o.CancelExecution("unknown-exec"))

	exec, err := o.ExecuteFullComplianceCheck(context.Background(), handoffWorkflowContext())
	require.NoError(t, err)
	assert.False(t, o.CancelExecution(exec.ExecutionID), "terminal executions cannot be cancelled")
}

func TestGetExecutionFromHistoryAndStore(t *testing.T) {
	store := storage.NewMemoryExecutionStore()
	o, _ := newTestOrchestrator(t, store)

	exec, err := o.ExecuteFullComplianceCheck(context.Background(), handoffWorkflowContext())
	require.NoError(t, err)

	got, err := o.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, exec.ExecutionID, got.ExecutionID)

	_, err = o.GetExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSnapshotChecksumDeterministic(t *testing.T) {
	snap := &workflow.TrailSnapshot{
		ExecutionID: "exec-1",
		WorkflowID:  WorkflowFullComplianceCheck,
		ContextID:   "ctx-1",
		Phases:      []workflow.Phase{workflow.PhasePreparation, workflow.PhaseReporting},
		Score:       0.75,
		IssueCount:  2,
	}
	first := snapshotChecksum(snap)
	second := snapshotChecksum(snap)
	assert.Equal(t, first, second)

	snap.IssueCount = 3
	assert.NotEqual(t, first, snapshotChecksum(snap))
}

func TestRemediationPlanSurfacedOnPhaseResult(t *testing.T) {
	store := storage.NewMemoryExecutionStore()
	o, _ := newTestOrchestrator(t, store)

	wctx := handoffWorkflowContext()
	delete(wctx.Data["si_data"].(map[string]interface{}), "irn")
	wctx.Data["si_data.total_amount"] = 90

	exec, err := o.ExecuteFullComplianceCheck(context.Background(), wctx)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, exec.Status)

	var remediation *workflow.PhaseResult
	for i := range exec.PhaseResults {
		if exec.PhaseResults[i].Phase == workflow.PhaseRemediation {
			remediation = &exec.PhaseResults[i]
		}
	}
	require.NotNil(t, remediation)
	require.NotNil(t, remediation.Remediation)

	plan := remediation.Remediation
	assert.Equal(t, exec.ExecutionID, plan.ExecutionID)
	require.NotEmpty(t, plan.Automatic)
	require.NotEmpty(t, plan.Manual)
	for _, item := range plan.Automatic {
		assert.Equal(t, "completed", item.Status)
	}
	manualTypes := make([]string, 0, len(plan.Manual))
	for _, item := range plan.Manual {
		assert.Equal(t, "scheduled", item.Status)
		manualTypes = append(manualTypes, item.IssueType)
	}
	assert.Contains(t, manualTypes, validation.IssueIntegrityMismatch)

	// The persisted execution carries the plan.
	saved, err := store.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, err)
	for _, pr := range saved.PhaseResults {
		if pr.Phase == workflow.PhaseRemediation {
			require.NotNil(t, pr.Remediation)
			assert.Equal(t, plan.PlanID, pr.Remediation.PlanID)
		}
	}
}
