package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/errors"
)

// EventMatcher decides whether an event belongs to a trail. The default
// matcher accepts everything; stricter predicates are a future-work hook.
type EventMatcher func(*Event) bool

// MatchAll is the default trail predicate.
func MatchAll(*Event) bool { return true }

// Trail is the tamper-evident ordered record of events belonging to one
// audit session. The checksum is recomputed whenever the event list changes;
// callers must treat append+checksum as one atomic operation.
type Trail struct {
	TrailID   string     `json:"trail_id"`
	SessionID string     `json:"session_id"`
	Events    []*Event   `json:"events"`
	Checksum  string     `json:"checksum"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Matcher EventMatcher `json:"-"`
}

// NewTrail creates an empty trail for a session.
func NewTrail(trailID, sessionID string, startTime time.Time) *Trail {
	return &Trail{
		TrailID:   trailID,
		SessionID: sessionID,
		Events:    make([]*Event, 0),
		StartTime: startTime,
		Matcher:   MatchAll,
	}
}

// Accepts reports whether the trail's predicate matches the event.
func (t *Trail) Accepts(e *Event) bool {
	if t.Matcher == nil {
		return true
	}
	return t.Matcher(e)
}

// Append adds an event and recomputes the checksum.
func (t *Trail) Append(e *Event) error {
	t.Events = append(t.Events, e)
	return t.RecomputeChecksum()
}

// RecomputeChecksum recalculates the trail checksum from the ordered event
// sequence. Algorithm: canonical JSON (sorted keys) of the trail metadata
// plus the ordered list of per-event digests, re-serialized with sorted keys
// and SHA-256'd.
func (t *Trail) RecomputeChecksum() error {
	checksum, err := ComputeTrailChecksum(t)
	if err != nil {
		return err
	}
	t.Checksum = checksum
	return nil
}

// ComputeTrailChecksum computes the checksum without mutating the trail,
// so integrity verification can recompute independently.
func ComputeTrailChecksum(t *Trail) (string, error) {
	digests := make([]string, 0, len(t.Events))
	for _, e := range t.Events {
		d, err := e.Digest()
		if err != nil {
			return "", err
		}
		digests = append(digests, d)
	}

	var endTime interface{}
	if t.EndTime != nil {
		endTime = t.EndTime.Format(time.RFC3339Nano)
	}

	payload := map[string]interface{}{
		"metadata": map[string]interface{}{
			"trail_id":    t.TrailID,
			"session_id":  t.SessionID,
			"event_count": len(t.Events),
			"start_time":  t.StartTime.Format(time.RFC3339Nano),
			"end_time":    endTime,
		},
		"event_digests": digests,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal trail checksum payload").WithCause(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the checksum and compares it against the stored
// value, returning false on any tampering.
func (t *Trail) VerifyIntegrity() (bool, error) {
	computed, err := ComputeTrailChecksum(t)
	if err != nil {
		return false, err
	}
	return computed == t.Checksum, nil
}

// Finalize stamps the end time and recomputes the closing checksum.
func (t *Trail) Finalize(endTime time.Time) error {
	t.EndTime = &endTime
	return t.RecomputeChecksum()
}
