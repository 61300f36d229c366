package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/storage"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
	regulationsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulation"
	validationsvc "github.com/taxpoynt/einvoice-compliance-backend/internal/service/validation"
)

// Orchestrator runs compliance workflows as ordered phase sequences over the
// regulation engine and cross-role validator. Executions move from the
// active map into a bounded history when they reach a terminal status.
type Orchestrator struct {
	logger    *zap.Logger
	bus       events.Bus
	engine    *regulationsvc.Engine
	validator *validationsvc.Validator
	store     storage.ExecutionStore
	clock     clock.Clock
	ids       clock.IDGenerator
	metrics   *metrics.Registry

	mu              sync.RWMutex
	workflows       map[string]*workflow.Definition
	active          map[string]*execState
	history         []*workflow.Execution
	historyCapacity int

	handlers map[workflow.Phase]phaseHandler
}

// execState pairs an execution with its cancellation flag. The flag is
// checked between phases only; a running phase is never interrupted.
type execState struct {
	execution *workflow.Execution
	cancelled bool
}

// phaseHandler runs one phase against the execution and returns its result
// body. An error marks the phase failed without aborting the run.
type phaseHandler func(ctx context.Context, def *workflow.Definition, exec *workflow.Execution) (*phaseOutcome, error)

// phaseOutcome is what a handler reports back.
type phaseOutcome struct {
	Score       *float64
	Issues      []workflow.ExecutionIssue
	RuleIDs     []string
	Remediation *workflow.RemediationPlan
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithIDGenerator overrides the orchestrator id generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithHistoryCapacity bounds the execution history ring.
func WithHistoryCapacity(n int) Option {
	return func(o *Orchestrator) { o.historyCapacity = n }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator with the three standard workflows
// seeded.
func NewOrchestrator(
	logger *zap.Logger,
	bus events.Bus,
	engine *regulationsvc.Engine,
	validator *validationsvc.Validator,
	store storage.ExecutionStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:          logger,
		bus:             bus,
		engine:          engine,
		validator:       validator,
		store:           store,
		clock:           clock.RealClock{},
		ids:             clock.UUIDGenerator{},
		workflows:       make(map[string]*workflow.Definition),
		active:          make(map[string]*execState),
		historyCapacity: 1000,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.handlers = map[workflow.Phase]phaseHandler{
		workflow.PhasePreparation:           o.runPreparation,
		workflow.PhaseRegulationEnforcement: o.runRegulationEnforcement,
		workflow.PhaseCrossRoleValidation:   o.runCrossRoleValidation,
		workflow.PhaseAuditTrailGeneration:  o.runAuditTrailGeneration,
		workflow.PhaseReporting:             o.runReporting,
		workflow.PhaseRemediation:           o.runRemediation,
	}
	o.seedWorkflows()
	return o
}

// RegisterWorkflow validates and stores a workflow definition.
func (o *Orchestrator) RegisterWorkflow(def *workflow.Definition) error {
	if def == nil {
		return errors.NewValidationError("NIL_WORKFLOW", "workflow definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.workflows[def.WorkflowID]; exists {
		return errors.NewConflictError("workflow already registered: " + def.WorkflowID)
	}
	o.workflows[def.WorkflowID] = def
	o.logger.Info("compliance workflow registered",
		zap.String("workflow_id", def.WorkflowID),
		zap.Int("phases", len(def.Phases)))
	return nil
}

// WorkflowIDs returns the ids of all registered workflows.
func (o *Orchestrator) WorkflowIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.workflows))
	for id := range o.workflows {
		ids = append(ids, id)
	}
	return ids
}

// ExecuteComplianceWorkflow runs a registered workflow to a terminal status.
// Phase handler errors are captured per phase; only an unknown workflow id
// fails the call itself.
func (o *Orchestrator) ExecuteComplianceWorkflow(ctx context.Context, workflowID string, wctx *workflow.Context) (*workflow.Execution, error) {
	o.mu.RLock()
	def, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return nil, errors.ErrWorkflowNotFound
	}
	if wctx == nil {
		return nil, errors.NewValidationError("NIL_CONTEXT", "workflow context cannot be nil")
	}

	now := o.clock.Now()
	exec := &workflow.Execution{
		ExecutionID: o.ids.NewID(),
		WorkflowID:  workflowID,
		Context:     *wctx,
		Status:      workflow.StatusPending,
		StartedAt:   now,
	}
	state := &execState{execution: exec}

	o.mu.Lock()
	o.active[exec.ExecutionID] = state
	o.mu.Unlock()

	o.logger.Info("compliance workflow started",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("workflow_id", workflowID),
		zap.String("priority", string(def.Priority)))

	exec.Status = workflow.StatusRunning
	o.runPhases(ctx, def, state)
	o.finalize(ctx, exec)
	return exec, nil
}

// runPhases executes the declared phases in order, honoring the stop-on-
// failure policy and the cooperative cancellation flag.
func (o *Orchestrator) runPhases(ctx context.Context, def *workflow.Definition, state *execState) {
	exec := state.execution
	anyFailed := false

	for _, phase := range def.Phases {
		if o.isCancelled(state) {
			exec.Status = workflow.StatusCancelled
			return
		}

		result := o.runPhase(ctx, def, exec, phase)
		exec.PhaseResults = append(exec.PhaseResults, result)

		if result.Status == workflow.PhaseFailed {
			anyFailed = true
			if def.RetryPolicy.StopOnFailure {
				exec.Status = workflow.StatusFailed
				return
			}
		}
	}

	if anyFailed {
		exec.Status = workflow.StatusPartiallyCompleted
	} else {
		exec.Status = workflow.StatusCompleted
	}
}

// runPhase dispatches one phase to its handler, converting a handler error
// into a failed phase result carrying a single critical issue.
func (o *Orchestrator) runPhase(ctx context.Context, def *workflow.Definition, exec *workflow.Execution, phase workflow.Phase) workflow.PhaseResult {
	started := o.clock.Now()
	result := workflow.PhaseResult{
		Phase:     phase,
		StartedAt: started,
	}

	handler, ok := o.handlers[phase]
	if !ok {
		result.Status = workflow.PhaseSkipped
		result.Error = "no handler for phase"
		result.CompletedAt = o.clock.Now()
		return result
	}

	outcome, err := handler(ctx, def, exec)
	result.CompletedAt = o.clock.Now()
	if err != nil {
		o.logger.Error("compliance phase failed",
			zap.String("execution_id", exec.ExecutionID),
			zap.String("phase", string(phase)),
			zap.Error(err))
		result.Status = workflow.PhaseFailed
		result.Error = err.Error()
		o.metrics.RecordPhaseFailure(ctx, string(phase))
		result.Issues = []workflow.ExecutionIssue{{
			Type:     "phase_execution_error",
			Severity: string(validation.SeverityCritical),
			Message:  err.Error(),
			Source:   string(phase),
		}}
		return result
	}

	result.Status = workflow.PhaseCompleted
	if outcome != nil {
		result.Score = outcome.Score
		result.Issues = outcome.Issues
		result.RuleIDs = outcome.RuleIDs
		result.Remediation = outcome.Remediation
	}
	return result
}

// finalize computes the aggregate score and issue counts, stamps the
// duration, persists the execution, and retires it from the active map.
func (o *Orchestrator) finalize(ctx context.Context, exec *workflow.Execution) {
	completed := o.clock.Now()
	exec.CompletedAt = &completed
	exec.Duration = completed.Sub(exec.StartedAt).Seconds()

	// Overall score is the mean of phase-reported scores; phases without a
	// score are excluded, not treated as zero.
	sum, counted := 0.0, 0
	for _, pr := range exec.PhaseResults {
		if pr.Score != nil {
			sum += *pr.Score
			counted++
		}
		exec.TotalIssues += len(pr.Issues)
		for _, issue := range pr.Issues {
			if issue.Severity == string(validation.SeverityCritical) {
				exec.CriticalIssues++
			}
		}
	}
	if counted > 0 {
		exec.OverallScore = sum / float64(counted)
	}

	o.mu.Lock()
	delete(o.active, exec.ExecutionID)
	o.history = append(o.history, exec)
	if len(o.history) > o.historyCapacity {
		o.history = o.history[len(o.history)-o.historyCapacity:]
	}
	o.mu.Unlock()

	o.metrics.ObserveExecution(ctx, exec.Duration, string(exec.Status))

	if err := o.store.SaveExecution(ctx, exec); err != nil {
		o.logger.Error("failed to persist execution",
			zap.String("execution_id", exec.ExecutionID), zap.Error(err))
	}
	if err := o.bus.Emit(ctx, "workflow.execution_completed", map[string]interface{}{
		"execution_id":    exec.ExecutionID,
		"workflow_id":     exec.WorkflowID,
		"status":          string(exec.Status),
		"overall_score":   exec.OverallScore,
		"total_issues":    exec.TotalIssues,
		"critical_issues": exec.CriticalIssues,
	}); err != nil {
		o.logger.Error("failed to emit execution event",
			zap.String("execution_id", exec.ExecutionID), zap.Error(err))
	}

	o.logger.Info("compliance workflow finished",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("status", string(exec.Status)),
		zap.Float64("overall_score", exec.OverallScore),
		zap.Int("total_issues", exec.TotalIssues))
}

// CancelExecution flags an active execution for cancellation. The flag is
// honored between phases; a running phase completes first. Returns false
// for unknown or already-terminal executions.
func (o *Orchestrator) CancelExecution(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.active[executionID]
	if !ok {
		return false
	}
	state.cancelled = true
	return true
}

func (o *Orchestrator) isCancelled(state *execState) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return state.cancelled
}

// GetExecution looks up an execution by id in the active map, then history,
// then durable storage.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	o.mu.RLock()
	if state, ok := o.active[executionID]; ok {
		o.mu.RUnlock()
		return state.execution, nil
	}
	for _, exec := range o.history {
		if exec.ExecutionID == executionID {
			o.mu.RUnlock()
			return exec, nil
		}
	}
	o.mu.RUnlock()

	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, errors.ErrExecutionNotFound
	}
	return exec, nil
}

// ExecuteFullComplianceCheck runs the standard six-phase workflow.
func (o *Orchestrator) ExecuteFullComplianceCheck(ctx context.Context, wctx *workflow.Context) (*workflow.Execution, error) {
	wctx.Priority = workflow.PriorityNormal
	return o.ExecuteComplianceWorkflow(ctx, WorkflowFullComplianceCheck, wctx)
}

// ExecuteCrossRoleCompliance runs the handoff-focused workflow.
func (o *Orchestrator) ExecuteCrossRoleCompliance(ctx context.Context, wctx *workflow.Context) (*workflow.Execution, error) {
	wctx.Priority = workflow.PriorityHigh
	return o.ExecuteComplianceWorkflow(ctx, WorkflowCrossRoleValidation, wctx)
}

// ExecuteEmergencyCompliance runs the incident workflow at emergency
// priority.
func (o *Orchestrator) ExecuteEmergencyCompliance(ctx context.Context, wctx *workflow.Context) (*workflow.Execution, error) {
	wctx.Priority = workflow.PriorityEmergency
	return o.ExecuteComplianceWorkflow(ctx, WorkflowEmergencyCompliance, wctx)
}
