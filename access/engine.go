package access

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"auditdesk/metrics"
	"auditdesk/storage"
)

// Store is the read-only slice of storage the engine consults.
type Store interface {
	UserRoles(ctx context.Context, userID string) ([]storage.Role, error)
	HasEngagementAccess(ctx context.Context, userID, engagementID string) (bool, error)
	RecordColumn(ctx context.Context, table storage.Table, recordID, column string) (string, bool, error)
	UserFirmID(ctx context.Context, userID string) (string, error)
}

// FilterCoverage selects which tables FilterResults scopes row by row.
type FilterCoverage string

const (
	// CoverageRegistry filters every table whose policy is row-scoped.
	CoverageRegistry FilterCoverage = "registry"
	// CoverageLegacy filters only the fixed table subset of the previous desktop build.
	CoverageLegacy FilterCoverage = "legacy"
)

// ParseFilterCoverage converts a configuration value.
func ParseFilterCoverage(s string) (FilterCoverage, error) {
	switch c := FilterCoverage(s); c {
	case CoverageRegistry, CoverageLegacy:
		return c, nil
	case "":
		return "", ErrCoverageRequired
	}
	return "", fmt.Errorf("unknown filter coverage %q (want %q or %q)", s, CoverageRegistry, CoverageLegacy)
}

// Options configures an Engine. Coverage has no default.
type Options struct {
	Coverage FilterCoverage
	Registry *Registry
}

// Engine answers access questions against a policy registry. It holds no
// mutable state.
type Engine struct {
	store    Store
	registry *Registry
	coverage FilterCoverage
	logger   *zap.SugaredLogger
}

// New creates an engine. It refuses a registry that leaves any table uncovered.
func New(store Store, opts Options, logger *zap.SugaredLogger) (*Engine, error) {
	if _, err := ParseFilterCoverage(string(opts.Coverage)); err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	if missing := reg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteRegistry, missing)
	}
	return &Engine{
		store:    store,
		registry: reg,
		coverage: opts.Coverage,
		logger:   logger,
	}, nil
}

// Coverage returns the configured FilterResults coverage.
func (e *Engine) Coverage() FilterCoverage {
	return e.coverage
}

// check carries the state of one CanAccess evaluation. Roles are loaded at
// most once.
type check struct {
	ctx    context.Context
	e      *Engine
	user   *storage.Profile
	table  storage.Table
	roles  map[storage.Role]bool
	failed bool
}

func (c *check) hasRole(roles ...storage.Role) bool {
	if c.roles == nil {
		list, err := c.e.store.UserRoles(c.ctx, c.user.UserID)
		if err != nil {
			c.e.logger.Errorw("Failed to load roles for access check", "user_id", c.user.UserID, "error", err)
			c.failed = true
			return false
		}
		c.roles = make(map[storage.Role]bool, len(list))
		for _, r := range list {
			c.roles[r] = true
		}
	}
	for _, r := range roles {
		if c.roles[r] {
			return true
		}
	}
	return false
}

func (c *check) managerOrAbove() bool {
	return c.hasRole(storage.RolePartner, storage.RoleManager)
}

func (c *check) partner() bool {
	return c.hasRole(storage.RolePartner)
}

func (c *check) satisfies(req Requirement) Decision {
	switch req.kind {
	case reqAnyone:
		return Allow()
	case reqManagerOrAbove:
		if c.managerOrAbove() {
			return Allow()
		}
	case reqPartner:
		if c.partner() {
			return Allow()
		}
	}
	return Deny(req.reason)
}

func (c *check) column(recordID, column string) (string, bool) {
	v, found, err := c.e.store.RecordColumn(c.ctx, c.table, recordID, column)
	if err != nil {
		c.e.logger.Errorw("Failed to read record for access check",
			"table", c.table, "record_id", recordID, "column", column, "error", err)
		c.failed = true
		return "", false
	}
	return v, found
}

func (c *check) member(engagementID string) bool {
	ok, err := c.e.store.HasEngagementAccess(c.ctx, c.user.UserID, engagementID)
	if err != nil {
		c.e.logger.Errorw("Failed to check engagement membership",
			"user_id", c.user.UserID, "engagement_id", engagementID, "error", err)
		c.failed = true
		return false
	}
	return ok
}

// CanAccess decides whether user may perform verb on table, optionally on one
// record. It only reads. Lookup failures deny with ReasonCheckFailed.
func (e *Engine) CanAccess(ctx context.Context, user *storage.Profile, table storage.Table, verb Verb, recordID string) Decision {
	d := e.decide(ctx, user, table, verb, recordID)
	metrics.AccessDecisions.WithLabelValues(string(table), string(verb), strconv.FormatBool(d.Allowed)).Inc()
	if !d.Allowed {
		e.logger.Debugw("Access denied", "table", table, "verb", verb, "record_id", recordID, "reason", d.Reason)
	}
	return d
}

func (e *Engine) decide(ctx context.Context, user *storage.Profile, table storage.Table, verb Verb, recordID string) Decision {
	if user == nil {
		return Deny(ReasonNotAuthenticated)
	}
	if !user.IsActive {
		return Deny(ReasonInactive)
	}
	if _, err := ParseVerb(string(verb)); err != nil {
		return Deny(fmt.Sprintf("Unknown verb: %s", verb))
	}

	policy, ok := e.registry.Lookup(table)
	if !ok {
		return Deny(fmt.Sprintf("Unknown table: %s", table))
	}

	c := &check{ctx: ctx, e: e, user: user, table: table}
	var d Decision
	switch p := policy.(type) {
	case RoleGated:
		d = c.roleGated(p, verb)
	case EngagementScoped:
		d = c.engagementScoped(p, verb, recordID)
	case SelfOwned:
		d = c.selfOwned(p, verb, recordID)
	case AppendOnly:
		d = appendOnly(verb)
	default:
		return Deny(fmt.Sprintf("Unknown table: %s", table))
	}
	if c.failed {
		return Deny(ReasonCheckFailed)
	}
	return d
}

func (c *check) roleGated(p RoleGated, verb Verb) Decision {
	switch verb {
	case VerbInsert:
		return c.satisfies(p.Insert)
	case VerbUpdate:
		return c.satisfies(p.Update)
	case VerbDelete:
		return c.satisfies(p.Delete)
	}
	return Allow()
}

func (c *check) engagementScoped(p EngagementScoped, verb Verb, recordID string) Decision {
	if recordID == "" {
		if verb == VerbUpdate && p.RequireRecordForUpdate {
			return Deny(ReasonRecordRequired)
		}
		if verb == VerbDelete && p.Delete == DeleteCreatorOrPartner {
			return Deny(ReasonRecordRequired)
		}
	} else {
		engagementID := recordID
		if !p.Lookup.self {
			v, found := c.column(recordID, p.Lookup.column)
			if c.failed {
				return Deny(ReasonCheckFailed)
			}
			if !found {
				return Deny(ReasonRecordNotFound)
			}
			engagementID = v
		}
		if engagementID == "" || !c.member(engagementID) {
			return Deny(ReasonNoEngagement)
		}
	}

	if verb != VerbDelete {
		return Allow()
	}
	switch p.Delete {
	case DeleteManagerOrAbove:
		return c.satisfies(ManagerOrAbove)
	case DeleteCreatorOrPartner:
		creator, _ := c.column(recordID, "created_by")
		if creator != "" && creator == c.user.UserID {
			return Allow()
		}
		if c.partner() {
			return Allow()
		}
		return Deny("Can only delete own programs or be partner")
	}
	return Allow()
}

func (c *check) selfOwned(p SelfOwned, verb Verb, recordID string) Decision {
	switch verb {
	case VerbInsert:
		if p.AllowInsert {
			return Allow()
		}
		return Deny("Managed by signup")
	case VerbDelete:
		if !p.AllowDelete {
			return Deny("Admin only")
		}
	case VerbSelect:
		if !p.ScopeReads {
			return Allow()
		}
	}

	if p.OwnerColumn == "" {
		if verb != VerbUpdate {
			return Allow()
		}
		if recordID == "" {
			return Deny(ReasonRecordRequired)
		}
		if recordID == c.user.ID {
			return Allow()
		}
		return Deny("Can only update own profile")
	}

	if recordID == "" {
		return Allow()
	}
	owner, found := c.column(recordID, p.OwnerColumn)
	if c.failed {
		return Deny(ReasonCheckFailed)
	}
	if !found {
		return Deny(ReasonRecordNotFound)
	}
	if owner == c.user.UserID {
		return Allow()
	}
	return Deny(fmt.Sprintf("Can only access own %s", c.table))
}

func appendOnly(verb Verb) Decision {
	if verb == VerbSelect || verb == VerbInsert {
		return Allow()
	}
	return Deny(ReasonAppendOnly)
}

// ValidateAccess returns nil when CanAccess allows, otherwise a *DeniedError.
func (e *Engine) ValidateAccess(ctx context.Context, user *storage.Profile, table storage.Table, verb Verb, recordID string) error {
	d := e.CanAccess(ctx, user, table, verb, recordID)
	if d.Allowed {
		return nil
	}
	return &DeniedError{Table: table, Verb: verb, Reason: d.Reason}
}

// ValidateColumns refuses a write naming a column the caller may not set:
// sensitive columns on any write, and on UPDATE any column outside a
// SelfOwned table's Writable list.
func (e *Engine) ValidateColumns(table storage.Table, verb Verb, columns []string) error {
	var allowed map[string]bool
	if p, ok := e.registry.Lookup(table); ok && verb == VerbUpdate {
		if so, ok := p.(SelfOwned); ok && len(so.Writable) > 0 {
			allowed = make(map[string]bool, len(so.Writable))
			for _, c := range so.Writable {
				allowed[c] = true
			}
		}
	}

	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	for _, c := range cols {
		if table.IsSensitive(c) || (allowed != nil && !allowed[c]) {
			metrics.AccessDecisions.WithLabelValues(string(table), string(verb), "false").Inc()
			return &DeniedError{Table: table, Verb: verb, Reason: fmt.Sprintf("%s: %s.%s", ReasonReadOnlyColumn, table, c)}
		}
	}
	return nil
}
