package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ActivityEntry is the input for LogActivity.
type ActivityEntry struct {
	UserID       string
	UserName     string
	Action       string
	Entity       string
	EntityID     string
	EngagementID string
	Details      string
	IPAddress    string
	Metadata     map[string]any
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// LogActivity appends a row to activity_logs. There is no update or delete
// counterpart.
func (s *SQLite) LogActivity(ctx context.Context, e ActivityEntry) error {
	if e.UserID == "" || e.Action == "" || e.Entity == "" {
		return fmt.Errorf("activity entry requires user, action and entity")
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal activity metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, user_name, action, entity, entity_id, engagement_id, details, ip_address, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.UserName, e.Action, e.Entity,
		nullable(e.EntityID), nullable(e.EngagementID), nullable(e.Details), nullable(e.IPAddress), meta)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", classifyError(err))
	}
	return nil
}

// AppendAuditTrail appends a change record to audit_trail.
func (s *SQLite) AppendAuditTrail(ctx context.Context, e AuditTrailEntry) error {
	if e.EntityType == "" || e.EntityID == "" || e.PerformedBy == "" {
		return fmt.Errorf("audit trail entry requires entity type, entity id and actor")
	}
	action := e.Action
	if action == "" {
		action = "update"
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_trail (entity_type, entity_id, action, old_value, new_value, reason, metadata, performed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID, action,
		nullable(e.OldValue), nullable(e.NewValue), nullable(e.Reason), nullable(e.Metadata), e.PerformedBy)
	if err != nil {
		return fmt.Errorf("failed to append audit trail: %w", classifyError(err))
	}
	return nil
}

// ListActivity returns the most recent activity for an engagement, newest
// first. An empty engagementID lists across all engagements.
func (s *SQLite) ListActivity(ctx context.Context, engagementID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.From(TableActivityLogs).Order("created_at", false).Order("rowid", false).Limit(limit)
	if engagementID != "" {
		q = q.Eq("engagement_id", engagementID)
	}
	rows, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	return Decode[ActivityLog](rows)
}
