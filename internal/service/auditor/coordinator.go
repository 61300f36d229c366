package auditor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/audit"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/clock"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/storage"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
)

// Ring buffer bounds: once the buffer exceeds ringHighWater it is trimmed
// down to the most recent ringLowWater events.
const (
	ringHighWater = 1000
	ringLowWater  = 500
)

// Coordinator owns audit sessions, their trails, and the append-only event
// stream. Trail append and checksum recompute happen atomically under the
// coordinator's lock, preserving call-order within each trail.
type Coordinator struct {
	logger   *zap.Logger
	bus      events.Bus
	notifier notification.Notifier
	store    storage.AuditStore
	clock    clock.Clock
	ids      clock.IDGenerator
	metrics  *metrics.Registry

	mu       sync.Mutex
	sessions map[string]*audit.Session
	trails   map[string]*audit.Trail
	history  []*audit.Session
	ring     []*audit.Event
}

// SessionRequest carries the caller-supplied fields for a new session.
type SessionRequest struct {
	Type           audit.SessionType
	Scope          audit.SessionScope
	Initiator      string
	TargetServices []string
	Objectives     []string
	Priority       audit.SessionPriority
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithClock overrides the coordinator clock.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithIDGenerator overrides the coordinator id generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(co *Coordinator) { co.ids = g }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// NewCoordinator creates an audit coordinator.
func NewCoordinator(logger *zap.Logger, bus events.Bus, notifier notification.Notifier, store storage.AuditStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:   logger,
		bus:      bus,
		notifier: notifier,
		store:    store,
		clock:    clock.RealClock{},
		ids:      clock.UUIDGenerator{},
		sessions: make(map[string]*audit.Session),
		trails:   make(map[string]*audit.Trail),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateAuditSession creates a session with its empty trail, records a
// process-execution event about the creation, and emits the bus event.
// Collection is passive: events reach trails through the matching predicate.
func (c *Coordinator) InitiateAuditSession(ctx context.Context, req SessionRequest) (*audit.Session, error) {
	if req.Type == "" {
		return nil, errors.NewValidationError("MISSING_SESSION_TYPE", "audit session type is required")
	}
	if req.Scope == "" {
		return nil, errors.NewValidationError("MISSING_SESSION_SCOPE", "audit session scope is required")
	}
	if req.Priority == "" {
		req.Priority = audit.PriorityMedium
	}

	now := c.clock.Now()
	session := &audit.Session{
		AuditID:        c.ids.NewID(),
		Type:           req.Type,
		Scope:          req.Scope,
		Initiator:      req.Initiator,
		TargetServices: req.TargetServices,
		Objectives:     req.Objectives,
		Status:         audit.SessionInProgress,
		Priority:       req.Priority,
		StartTime:      now,
	}
	trail := audit.NewTrail(c.ids.NewID(), session.AuditID, now)

	c.mu.Lock()
	c.sessions[session.AuditID] = session
	c.trails[session.AuditID] = trail
	c.mu.Unlock()

	c.metrics.RecordSession(ctx, string(req.Type))

	c.logger.Info("audit session initiated",
		zap.String("session_id", session.AuditID),
		zap.String("type", string(req.Type)),
		zap.String("scope", string(req.Scope)),
		zap.String("priority", string(req.Priority)))

	if _, err := c.LogAuditEvent(ctx, &audit.Event{
		Type:        audit.EventProcessExecution,
		ServiceName: "audit_coordinator",
		Action:      "initiate_audit_session",
		Resource:    session.AuditID,
		Details: map[string]interface{}{
			"session_type": string(req.Type),
			"scope":        string(req.Scope),
		},
		SessionID: session.AuditID,
	}); err != nil {
		c.logger.Error("failed to log session-creation event",
			zap.String("session_id", session.AuditID), zap.Error(err))
	}

	if err := c.bus.Emit(ctx, "audit.session_initiated", map[string]interface{}{
		"session_id": session.AuditID,
		"type":       string(req.Type),
		"scope":      string(req.Scope),
		"priority":   string(req.Priority),
	}); err != nil {
		c.logger.Error("failed to emit session event",
			zap.String("session_id", session.AuditID), zap.Error(err))
	}

	if err := c.store.SaveSession(ctx, session); err != nil {
		c.logger.Error("failed to persist audit session",
			zap.String("session_id", session.AuditID), zap.Error(err))
	}
	return session, nil
}

// LogAuditEvent appends an event to the ring buffer, every open trail whose
// predicate accepts it, and durable storage, then evaluates auto-trigger
// rules. The append path always succeeds; collaborator failures are logged.
func (c *Coordinator) LogAuditEvent(ctx context.Context, event *audit.Event) (string, error) {
	if event == nil {
		return "", errors.NewValidationError("NIL_EVENT", "audit event cannot be nil")
	}
	if event.EventID == "" {
		event.EventID = c.ids.NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock.Now()
	}
	if err := event.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.ring = append(c.ring, event)
	if len(c.ring) > ringHighWater {
		c.ring = c.ring[len(c.ring)-ringLowWater:]
	}
	for _, trail := range c.trails {
		if !trail.Accepts(event) {
			continue
		}
		if err := trail.Append(event); err != nil {
			c.logger.Error("failed to append event to trail",
				zap.String("trail_id", trail.TrailID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
	c.mu.Unlock()

	c.metrics.RecordAuditEvent(ctx, string(event.Type))

	if err := c.store.SaveEvent(ctx, event); err != nil {
		c.logger.Error("failed to persist audit event",
			zap.String("event_id", event.EventID), zap.Error(err))
	}

	c.evaluateAutoTriggers(ctx, event)
	return event.EventID, nil
}

// evaluateAutoTriggers spawns follow-up sessions for security incidents and
// failed compliance checks, targeting only the originating service.
func (c *Coordinator) evaluateAutoTriggers(ctx context.Context, event *audit.Event) {
	switch event.Type {
	case audit.EventSecurityIncident:
		c.spawnTriggeredSession(ctx, event, audit.SecurityAudit, audit.PriorityHigh,
			"auto-triggered by security incident "+event.EventID)

	case audit.EventComplianceCheck:
		status, _ := event.Details["status"].(string)
		if status != "failed" {
			return
		}
		c.spawnTriggeredSession(ctx, event, audit.ComplianceAudit, audit.PriorityMedium,
			"auto-triggered by failed compliance check "+event.EventID)
	}
}

func (c *Coordinator) spawnTriggeredSession(ctx context.Context, event *audit.Event, sessionType audit.SessionType, priority audit.SessionPriority, reason string) {
	var targets []string
	if event.ServiceName != "" {
		targets = []string{event.ServiceName}
	}

	session, err := c.InitiateAuditSession(ctx, SessionRequest{
		Type:           sessionType,
		Scope:          audit.ScopeSpecificProcess,
		Initiator:      "audit_coordinator",
		TargetServices: targets,
		Objectives:     []string{reason},
		Priority:       priority,
	})
	if err != nil {
		c.logger.Error("failed to auto-trigger audit session",
			zap.String("trigger_event", event.EventID), zap.Error(err))
		return
	}
	c.logger.Info("audit session auto-triggered",
		zap.String("session_id", session.AuditID),
		zap.String("trigger_event", event.EventID),
		zap.String("type", string(sessionType)))
}

// CompleteAuditSession stamps completion on an active session, finalizes and
// persists its trail, and moves it to history. Unknown ids raise.
func (c *Coordinator) CompleteAuditSession(ctx context.Context, sessionID string, findings []audit.Finding, recommendations []string) (*audit.Session, error) {
	now := c.clock.Now()

	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.ErrSessionNotFound
	}
	if err := session.Complete(now, findings, recommendations); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	trail := c.trails[sessionID]
	if trail != nil {
		if err := trail.Finalize(now); err != nil {
			c.logger.Error("failed to finalize trail",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	delete(c.sessions, sessionID)
	delete(c.trails, sessionID)
	c.history = append(c.history, session)
	c.mu.Unlock()

	if trail != nil {
		if err := c.store.SaveTrail(ctx, trail); err != nil {
			c.logger.Error("failed to persist trail",
				zap.String("trail_id", trail.TrailID), zap.Error(err))
		}
	}
	if err := c.store.SaveSession(ctx, session); err != nil {
		c.logger.Error("failed to persist completed session",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := c.bus.Emit(ctx, "audit.session_completed", map[string]interface{}{
		"session_id":        sessionID,
		"findings":          len(findings),
		"critical_findings": session.HasCriticalFindings(),
		"duration_seconds":  session.DurationSeconds,
	}); err != nil {
		c.logger.Error("failed to emit completion event",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if session.HasCriticalFindings() {
		if err := c.notifier.SendUrgentAlert(ctx, map[string]interface{}{
			"session_id": sessionID,
			"message":    "audit session completed with critical findings",
		}); err != nil {
			c.logger.Error("failed to send critical findings alert",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return session, nil
}

// CancelAuditSession cancels an active session; false for unknown ids.
func (c *Coordinator) CancelAuditSession(ctx context.Context, sessionID, reason string) bool {
	now := c.clock.Now()

	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if err := session.Cancel(now, reason); err != nil {
		c.mu.Unlock()
		return false
	}
	trail := c.trails[sessionID]
	if trail != nil {
		if err := trail.Finalize(now); err != nil {
			c.logger.Error("failed to finalize trail",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	delete(c.sessions, sessionID)
	delete(c.trails, sessionID)
	c.history = append(c.history, session)
	c.mu.Unlock()

	if trail != nil {
		if err := c.store.SaveTrail(ctx, trail); err != nil {
			c.logger.Error("failed to persist trail",
				zap.String("trail_id", trail.TrailID), zap.Error(err))
		}
	}
	if err := c.store.SaveSession(ctx, session); err != nil {
		c.logger.Error("failed to persist cancelled session",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	c.logger.Info("audit session cancelled",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	return true
}

// GenerateAuditReport builds a report for a known session: executive summary
// with counts by severity and the session window, plus the worst-severity
// compliance status. Works for active and historical sessions.
func (c *Coordinator) GenerateAuditReport(ctx context.Context, sessionID, reportType string, includeRecommendations bool) (*audit.Report, error) {
	session := c.findSession(sessionID)
	if session == nil {
		stored, err := c.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, errors.ErrSessionNotFound
		}
		session = stored
	}

	report := &audit.Report{
		ReportID:         c.ids.NewID(),
		SessionID:        sessionID,
		ReportType:       reportType,
		ExecutiveSummary: executiveSummary(session),
		Findings:         session.Findings,
		ComplianceStatus: audit.DeriveComplianceStatus(session.Findings),
		GeneratedAt:      c.clock.Now(),
	}
	if includeRecommendations {
		report.Recommendations = session.Recommendations
	}

	if err := c.store.SaveReport(ctx, report); err != nil {
		c.logger.Error("failed to persist audit report",
			zap.String("report_id", report.ReportID), zap.Error(err))
	}
	return report, nil
}

func (c *Coordinator) findSession(sessionID string) *audit.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s
	}
	for _, s := range c.history {
		if s.AuditID == sessionID {
			return s
		}
	}
	return nil
}

func executiveSummary(session *audit.Session) string {
	counts := make(map[audit.FindingSeverity]int)
	for _, f := range session.Findings {
		counts[f.Severity]++
	}
	window := session.StartTime.Format(time.RFC3339)
	if session.EndTime != nil {
		window += " to " + session.EndTime.Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"%s audit over %d target service(s), window %s: %d finding(s) (%d critical, %d high, %d medium, %d low).",
		session.Type, len(session.TargetServices), window, len(session.Findings),
		counts[audit.FindingCritical], counts[audit.FindingHigh],
		counts[audit.FindingMedium], counts[audit.FindingLow])
}

// ActiveSessions returns a snapshot of in-flight sessions.
func (c *Coordinator) ActiveSessions() []*audit.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*audit.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// Trail returns the open trail for an active session, if any.
func (c *Coordinator) Trail(sessionID string) (*audit.Trail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trails[sessionID]
	return t, ok
}

// RecentEvents returns a copy of the ring buffer contents.
func (c *Coordinator) RecentEvents() []*audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*audit.Event, len(c.ring))
	copy(out, c.ring)
	return out
}
