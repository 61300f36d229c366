package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/audit"
)

// AuditRepository persists audit records as JSONB rows keyed by id.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveEvent appends an audit event row. Events are append-only; conflicts on
// id are rejected rather than upserted.
func (r *AuditRepository) SaveEvent(ctx context.Context, event *audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, session_id, event_type, recorded_at, body)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query,
		event.EventID, event.SessionID, string(event.Type), event.Timestamp, body)
	return err
}

// SaveTrail upserts the trail row; the checksum column mirrors the body so
// integrity sweeps can compare without unmarshalling.
func (r *AuditRepository) SaveTrail(ctx context.Context, trail *audit.Trail) error {
	body, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}

	query := `
		INSERT INTO audit_trails (id, session_id, checksum, event_count, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET checksum = EXCLUDED.checksum,
		    event_count = EXCLUDED.event_count,
		    body = EXCLUDED.body`

	_, err = r.db.Exec(ctx, query,
		trail.TrailID, trail.SessionID, trail.Checksum, len(trail.Events), body)
	return err
}

// SaveSession upserts the session row
func (r *AuditRepository) SaveSession(ctx context.Context, session *audit.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal audit session: %w", err)
	}

	query := `
		INSERT INTO audit_sessions (id, session_type, status, started_at, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    body = EXCLUDED.body`

	_, err = r.db.Exec(ctx, query,
		session.AuditID, string(session.Type), string(session.Status), session.StartTime, body)
	return err
}

// SaveReport appends a generated report row
func (r *AuditRepository) SaveReport(ctx context.Context, report *audit.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal audit report: %w", err)
	}

	query := `
		INSERT INTO audit_reports (id, session_id, generated_at, body)
		VALUES ($1, $2, $3, $4)`

	_, err = r.db.Exec(ctx, query,
		report.ReportID, report.SessionID, report.GeneratedAt, body)
	return err
}

// GetEvent looks up one event by id
func (r *AuditRepository) GetEvent(ctx context.Context, eventID string) (*audit.Event, error) {
	return getByID[audit.Event](ctx, r.db,
		`SELECT body FROM audit_events WHERE id = $1`, eventID, "audit event")
}

// GetTrail looks up one trail by id
func (r *AuditRepository) GetTrail(ctx context.Context, trailID string) (*audit.Trail, error) {
	trail, err := getByID[audit.Trail](ctx, r.db,
		`SELECT body FROM audit_trails WHERE id = $1`, trailID, "audit trail")
	if err != nil {
		return nil, err
	}
	trail.Matcher = audit.MatchAll
	return trail, nil
}

// GetSession looks up one session by id
func (r *AuditRepository) GetSession(ctx context.Context, sessionID string) (*audit.Session, error) {
	return getByID[audit.Session](ctx, r.db,
		`SELECT body FROM audit_sessions WHERE id = $1`, sessionID, "audit session")
}

func getByID[T any](ctx context.Context, db *pgxpool.Pool, query, id, kind string) (*T, error) {
	var body []byte
	if err := db.QueryRow(ctx, query, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{Kind: kind, ID: id}
		}
		return nil, err
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return &out, nil
}
