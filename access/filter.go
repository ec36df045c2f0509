package access

import (
	"context"

	"auditdesk/storage"
)

// FilterResults drops rows of an already fetched page that fall outside the
// caller's scope. Which tables are scoped depends on the engine's coverage.
// A nil user gets nothing back.
func (e *Engine) FilterResults(ctx context.Context, user *storage.Profile, table storage.Table, rows []storage.Row) []storage.Row {
	if user == nil {
		return []storage.Row{}
	}
	f := &rowFilter{ctx: ctx, e: e, user: user, membership: make(map[string]bool)}

	if e.coverage == CoverageLegacy {
		return f.legacy(table, rows)
	}

	policy, ok := e.registry.Lookup(table)
	if !ok {
		return []storage.Row{}
	}
	switch p := policy.(type) {
	case RoleGated:
		if p.FirmScoped {
			return f.byFirm(rows, false)
		}
	case EngagementScoped:
		if p.Lookup.self {
			return f.keep(rows, func(r storage.Row) bool { return f.member(r.ID()) })
		}
		return f.byEngagement(rows, p.Lookup.column, false)
	case SelfOwned:
		if p.OwnerColumn != "" && p.ScopeReads {
			return f.byOwner(rows, p.OwnerColumn)
		}
	}
	return rows
}

type rowFilter struct {
	ctx  context.Context
	e    *Engine
	user *storage.Profile

	// membership is memoized per engagement for the duration of one call
	membership map[string]bool
	firm       *string
}

func (f *rowFilter) keep(rows []storage.Row, pred func(storage.Row) bool) []storage.Row {
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f *rowFilter) member(engagementID string) bool {
	if ok, seen := f.membership[engagementID]; seen {
		return ok
	}
	ok, err := f.e.store.HasEngagementAccess(f.ctx, f.user.UserID, engagementID)
	if err != nil {
		f.e.logger.Errorw("Failed to check engagement membership while filtering",
			"user_id", f.user.UserID, "engagement_id", engagementID, "error", err)
		ok = false
	}
	f.membership[engagementID] = ok
	return ok
}

func (f *rowFilter) userFirm() string {
	if f.firm == nil {
		firm, err := f.e.store.UserFirmID(f.ctx, f.user.UserID)
		if err != nil {
			f.e.logger.Errorw("Failed to read firm while filtering", "user_id", f.user.UserID, "error", err)
			firm = f.user.FirmID
		}
		f.firm = &firm
	}
	return *f.firm
}

// byEngagement keeps rows whose engagement the caller belongs to. Rows with no
// engagement id are dropped unless keepUnscoped is set.
func (f *rowFilter) byEngagement(rows []storage.Row, column string, keepUnscoped bool) []storage.Row {
	return f.keep(rows, func(r storage.Row) bool {
		id := r.String(column)
		if id == "" {
			return keepUnscoped
		}
		return f.member(id)
	})
}

// byFirm keeps rows of the caller's firm. A caller without a firm sees
// everything. Rows without a firm are shared unless strict is set.
func (f *rowFilter) byFirm(rows []storage.Row, strict bool) []storage.Row {
	firm := f.userFirm()
	if firm == "" {
		return rows
	}
	return f.keep(rows, func(r storage.Row) bool {
		rowFirm := r.String("firm_id")
		if rowFirm == "" {
			return !strict
		}
		return rowFirm == firm
	})
}

func (f *rowFilter) byOwner(rows []storage.Row, column string) []storage.Row {
	return f.keep(rows, func(r storage.Row) bool {
		return r.String(column) == f.user.UserID
	})
}

func (f *rowFilter) legacy(table storage.Table, rows []storage.Row) []storage.Row {
	switch {
	case legacyFirmTables[table]:
		return f.byFirm(rows, true)
	case legacyEngagementTables[table]:
		return f.byEngagement(rows, "engagement_id", true)
	case table == storage.TableNotifications:
		return f.byOwner(rows, "user_id")
	}
	return rows
}
