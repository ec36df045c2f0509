package storage

import (
	"fmt"
	"time"
)

// Role is an organization-level role. Roles are independent grants; a user
// may hold several.
type Role string

const (
	RolePartner Role = "partner"
	RoleManager Role = "manager"
	RoleSenior  Role = "senior"
	RoleStaff   Role = "staff"
)

// DefaultRole is granted to every account created through Signup.
const DefaultRole = RoleStaff

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePartner, RoleManager, RoleSenior, RoleStaff:
		return true
	}
	return false
}

// ParseRole converts an external role name.
func ParseRole(name string) (Role, error) {
	r := Role(name)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, name)
	}
	return r, nil
}

// Profile is an account. ID is the row id; UserID is the identity referenced
// by user_roles, engagements and assignments.
type Profile struct {
	ID           string    `mapstructure:"id" json:"id"`
	UserID       string    `mapstructure:"user_id" json:"user_id"`
	Email        string    `mapstructure:"email" json:"email"`
	FullName     string    `mapstructure:"full_name" json:"full_name"`
	Phone        string    `mapstructure:"phone" json:"phone,omitempty"`
	FirmID       string    `mapstructure:"firm_id" json:"firm_id,omitempty"`
	IsActive     bool      `mapstructure:"is_active" json:"is_active"`
	PasswordHash string    `mapstructure:"password_hash" json:"-"`
	CreatedAt    time.Time `mapstructure:"created_at" json:"created_at"`
	UpdatedAt    time.Time `mapstructure:"updated_at" json:"updated_at"`
}

// RoleAssignment is one user_roles grant.
type RoleAssignment struct {
	ID        string    `mapstructure:"id" json:"id"`
	UserID    string    `mapstructure:"user_id" json:"user_id"`
	Role      Role      `mapstructure:"role" json:"role"`
	CreatedAt time.Time `mapstructure:"created_at" json:"created_at"`
}

// Engagement is an audit job for one client and financial year.
type Engagement struct {
	ID                     string    `mapstructure:"id" json:"id"`
	ClientID               string    `mapstructure:"client_id" json:"client_id,omitempty"`
	FirmID                 string    `mapstructure:"firm_id" json:"firm_id,omitempty"`
	Name                   string    `mapstructure:"name" json:"name"`
	ClientName             string    `mapstructure:"client_name" json:"client_name"`
	EngagementType         string    `mapstructure:"engagement_type" json:"engagement_type"`
	FinancialYear          string    `mapstructure:"financial_year" json:"financial_year"`
	Status                 string    `mapstructure:"status" json:"status"`
	StartDate              string    `mapstructure:"start_date" json:"start_date,omitempty"`
	EndDate                string    `mapstructure:"end_date" json:"end_date,omitempty"`
	MaterialityAmount      float64   `mapstructure:"materiality_amount" json:"materiality_amount,omitempty"`
	PerformanceMateriality float64   `mapstructure:"performance_materiality" json:"performance_materiality,omitempty"`
	TrivialThreshold       float64   `mapstructure:"trivial_threshold" json:"trivial_threshold,omitempty"`
	Notes                  string    `mapstructure:"notes" json:"notes,omitempty"`
	PartnerID              string    `mapstructure:"partner_id" json:"partner_id,omitempty"`
	ManagerID              string    `mapstructure:"manager_id" json:"manager_id,omitempty"`
	CreatedBy              string    `mapstructure:"created_by" json:"created_by"`
	CreatedAt              time.Time `mapstructure:"created_at" json:"created_at"`
	UpdatedAt              time.Time `mapstructure:"updated_at" json:"updated_at"`
}

// EngagementAssignment grants a user membership of an engagement.
type EngagementAssignment struct {
	ID           string    `mapstructure:"id" json:"id"`
	EngagementID string    `mapstructure:"engagement_id" json:"engagement_id"`
	UserID       string    `mapstructure:"user_id" json:"user_id"`
	Role         string    `mapstructure:"role" json:"role"`
	CreatedAt    time.Time `mapstructure:"created_at" json:"created_at"`
}

// ActivityLog is one append-only activity_logs row.
type ActivityLog struct {
	ID           string    `mapstructure:"id" json:"id"`
	UserID       string    `mapstructure:"user_id" json:"user_id"`
	UserName     string    `mapstructure:"user_name" json:"user_name"`
	Action       string    `mapstructure:"action" json:"action"`
	Entity       string    `mapstructure:"entity" json:"entity"`
	EntityID     string    `mapstructure:"entity_id" json:"entity_id,omitempty"`
	EngagementID string    `mapstructure:"engagement_id" json:"engagement_id,omitempty"`
	Details      string    `mapstructure:"details" json:"details,omitempty"`
	IPAddress    string    `mapstructure:"ip_address" json:"ip_address,omitempty"`
	Metadata     string    `mapstructure:"metadata" json:"metadata"`
	CreatedAt    time.Time `mapstructure:"created_at" json:"created_at"`
}

// AuditTrailEntry is one append-only audit_trail row.
type AuditTrailEntry struct {
	ID          string    `mapstructure:"id" json:"id"`
	EntityType  string    `mapstructure:"entity_type" json:"entity_type"`
	EntityID    string    `mapstructure:"entity_id" json:"entity_id"`
	Action      string    `mapstructure:"action" json:"action"`
	OldValue    string    `mapstructure:"old_value" json:"old_value,omitempty"`
	NewValue    string    `mapstructure:"new_value" json:"new_value,omitempty"`
	Reason      string    `mapstructure:"reason" json:"reason,omitempty"`
	Metadata    string    `mapstructure:"metadata" json:"metadata,omitempty"`
	PerformedBy string    `mapstructure:"performed_by" json:"performed_by"`
	PerformedAt time.Time `mapstructure:"performed_at" json:"performed_at"`
}

// Notification is a message addressed to one user.
type Notification struct {
	ID        string    `mapstructure:"id" json:"id"`
	UserID    string    `mapstructure:"user_id" json:"user_id"`
	Type      string    `mapstructure:"type" json:"type"`
	Title     string    `mapstructure:"title" json:"title"`
	Message   string    `mapstructure:"message" json:"message"`
	Link      string    `mapstructure:"link" json:"link,omitempty"`
	IsRead    bool      `mapstructure:"is_read" json:"is_read"`
	CreatedAt time.Time `mapstructure:"created_at" json:"created_at"`
}
