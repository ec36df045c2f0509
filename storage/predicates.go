package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// HasRole reports whether userID holds role.
func (s *SQLite) HasRole(ctx context.Context, userID string, role Role) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?", userID, string(role)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", classifyError(err))
	}
	return n > 0, nil
}

// UserRoles returns every role held by userID.
func (s *SQLite) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT role FROM user_roles WHERE user_id = ? ORDER BY role", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", classifyError(err))
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, Role(r))
	}
	return roles, rows.Err()
}

// HasEngagementAccess reports whether userID created, leads (partner or
// manager) or is assigned to the engagement.
func (s *SQLite) HasEngagementAccess(ctx context.Context, userID, engagementID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM engagements e
		WHERE e.id = ?
		  AND (e.created_by = ? OR e.partner_id = ? OR e.manager_id = ?
		       OR EXISTS (SELECT 1 FROM engagement_assignments a
		                  WHERE a.engagement_id = e.id AND a.user_id = ?))`,
		engagementID, userID, userID, userID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check engagement access: %w", classifyError(err))
	}
	return n > 0, nil
}

// RecordColumn reads one column of one record by id. found is false when the
// record does not exist; a NULL column is returned as "" with found true.
func (s *SQLite) RecordColumn(ctx context.Context, table Table, recordID, column string) (string, bool, error) {
	if !table.Valid() {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if !identifierPattern.MatchString(column) {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, column)
	}

	var value sql.NullString
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT "%s" FROM "%s" WHERE id = ?`, column, table), recordID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s.%s: %w", table, column, classifyError(err))
	}
	return value.String, true, nil
}

// UserFirmID returns the firm of userID, or "" when the profile has none.
func (s *SQLite) UserFirmID(ctx context.Context, userID string) (string, error) {
	var firm sql.NullString
	err := s.DB.QueryRowContext(ctx,
		"SELECT firm_id FROM profiles WHERE user_id = ?", userID).Scan(&firm)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read firm: %w", classifyError(err))
	}
	return firm.String, nil
}

// ProfileByID loads a profile by its row id.
func (s *SQLite) ProfileByID(ctx context.Context, id string) (*Profile, error) {
	row, err := s.From(TableProfiles).Eq("id", id).Single(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return DecodeOne[Profile](row)
}

// ProfileByEmail loads a profile by email.
func (s *SQLite) ProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	row, err := s.From(TableProfiles).Eq("email", normalizeEmail(email)).Single(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return DecodeOne[Profile](row)
}

// AssignRole grants role to userID. Granting a held role is a no-op.
func (s *SQLite) AssignRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)", userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", classifyError(err))
	}
	s.Logger.Infow("Role assigned", "user_id", userID, "role", role)
	return nil
}

// RevokeRole removes role from userID. Revoking an absent role is a no-op.
func (s *SQLite) RevokeRole(ctx context.Context, userID string, role Role) error {
	_, err := s.DB.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = ? AND role = ?", userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", classifyError(err))
	}
	s.Logger.Infow("Role revoked", "user_id", userID, "role", role)
	return nil
}
