package storage

import (
	"context"
	"sync"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/audit"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
)

// MemoryAuditStore is an in-memory AuditStore used in tests and single-node
// development runs.
type MemoryAuditStore struct {
	mu       sync.RWMutex
	events   map[string]*audit.Event
	trails   map[string]*audit.Trail
	sessions map[string]*audit.Session
	reports  map[string]*audit.Report
}

// NewMemoryAuditStore creates an empty in-memory audit store
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		events:   make(map[string]*audit.Event),
		trails:   make(map[string]*audit.Trail),
		sessions: make(map[string]*audit.Session),
		reports:  make(map[string]*audit.Report),
	}
}

func (s *MemoryAuditStore) SaveEvent(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.EventID] = event
	return nil
}

func (s *MemoryAuditStore) SaveTrail(_ context.Context, trail *audit.Trail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trails[trail.TrailID] = trail
	return nil
}

func (s *MemoryAuditStore) SaveSession(_ context.Context, session *audit.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.AuditID] = session
	return nil
}

func (s *MemoryAuditStore) SaveReport(_ context.Context, report *audit.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ReportID] = report
	return nil
}

func (s *MemoryAuditStore) GetEvent(_ context.Context, eventID string) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.events[eventID]; ok {
		return e, nil
	}
	return nil, ErrNotFound{Kind: "audit event", ID: eventID}
}

func (s *MemoryAuditStore) GetTrail(_ context.Context, trailID string) (*audit.Trail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.trails[trailID]; ok {
		return t, nil
	}
	return nil, ErrNotFound{Kind: "audit trail", ID: trailID}
}

func (s *MemoryAuditStore) GetSession(_ context.Context, sessionID string) (*audit.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, ErrNotFound{Kind: "audit session", ID: sessionID}
}

// EventCount reports how many events were persisted; test helper.
func (s *MemoryAuditStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MemoryExecutionStore is an in-memory ExecutionStore used in tests and
// single-node development runs.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*workflow.Execution
	snapshots  map[string]*workflow.TrailSnapshot
	reports    map[string]*workflow.Report
}

// NewMemoryExecutionStore creates an empty in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]*workflow.Execution),
		snapshots:  make(map[string]*workflow.TrailSnapshot),
		reports:    make(map[string]*workflow.Report),
	}
}

func (s *MemoryExecutionStore) SaveExecution(_ context.Context, execution *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ExecutionID] = execution
	return nil
}

func (s *MemoryExecutionStore) SaveTrailSnapshot(_ context.Context, snapshot *workflow.TrailSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.SnapshotID] = snapshot
	return nil
}

func (s *MemoryExecutionStore) SaveReport(_ context.Context, report *workflow.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ReportID] = report
	return nil
}

func (s *MemoryExecutionStore) GetExecution(_ context.Context, executionID string) (*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.executions[executionID]; ok {
		return e, nil
	}
	return nil, ErrNotFound{Kind: "compliance execution", ID: executionID}
}

// Snapshots returns all persisted trail snapshots; test helper.
func (s *MemoryExecutionStore) Snapshots() []*workflow.TrailSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.TrailSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out
}

// Reports returns all persisted reports; test helper.
func (s *MemoryExecutionStore) Reports() []*workflow.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	return out
}
