package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
)

// EventType classifies an audit event
type EventType string

const (
	EventProcessExecution    EventType = "process_execution"
	EventComplianceCheck     EventType = "compliance_check"
	EventSecurityIncident    EventType = "security_incident"
	EventDataAccess          EventType = "data_access"
	EventConfigurationChange EventType = "configuration_change"
	EventUserAction          EventType = "user_action"
	EventSystemEvent         EventType = "system_event"
)

// Event is an atomic, append-only audit fact.
type Event struct {
	EventID     string                 `json:"event_id"`
	Type        EventType              `json:"type"`
	ServiceRole regulation.ServiceRole `json:"service_role"`
	ServiceName string                 `json:"service_name"`
	UserID      string                 `json:"user_id,omitempty"`
	Action      string                 `json:"action"`
	Resource    string                 `json:"resource"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	SessionID   string                 `json:"session_id,omitempty"`
}

// Validate checks the event's required fields.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return errors.NewValidationError("MISSING_EVENT_ID", "event id is required")
	}
	if e.Type == "" {
		return errors.NewValidationError("MISSING_EVENT_TYPE", "event type is required")
	}
	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	return nil
}

// Digest computes the per-event SHA-256 hex digest over the canonical JSON
// projection used by the trail checksum. Map marshalling sorts keys, which
// keeps the digest bit-reproducible.
func (e *Event) Digest() (string, error) {
	projection := map[string]interface{}{
		"event_id":   e.EventID,
		"event_type": string(e.Type),
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		"action":     e.Action,
		"resource":   e.Resource,
	}
	raw, err := json.Marshal(projection)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal event projection").WithCause(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
