package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"auditdesk/access"
	"auditdesk/storage"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// requestScope returns the session and table set by the middleware chain.
func (a *API) requestScope(w http.ResponseWriter, r *http.Request) (*storage.Session, storage.Table, bool) {
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return nil, "", false
	}
	table, ok := GetTable(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Table not resolved", nil, a.logger)
		return nil, "", false
	}
	return session, table, true
}

func parsePaging(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// listRows returns one page of a table. Query parameters other than limit
// and offset are equality filters on columns of the same name.
func (a *API) listRows(w http.ResponseWriter, r *http.Request) {
	session, table, ok := a.requestScope(w, r)
	if !ok {
		return
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	q := session.From(table)
	params := r.URL.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "limit" && k != "offset" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	filters := make(storage.Row, len(keys))
	for _, k := range keys {
		if table.IsSensitive(k) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("column %q cannot be filtered", k), nil, a.logger)
			return
		}
		filters[k] = params.Get(k)
		q = q.Eq(k, params.Get(k))
	}
	if known, err := a.checkColumns(r.Context(), table, filters); err != nil {
		if known == nil {
			writeError(w, http.StatusInternalServerError, "Failed to read table columns", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	rows, err := q.Order("rowid", true).Range(offset, offset+limit-1).List(r.Context())
	if err != nil {
		writeError(w, storageStatus(err), "Failed to list rows", err, a.logger)
		return
	}
	rows = a.access.FilterResults(r.Context(), session.CurrentUser(), table, rows)
	table.Redact(rows...)

	a.respondJSON(w, map[string]any{
		"data":   rows,
		"count":  len(rows),
		"limit":  limit,
		"offset": offset,
	}, http.StatusOK)
}

func (a *API) getRow(w http.ResponseWriter, r *http.Request) {
	session, table, ok := a.requestScope(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	row, err := session.From(table).Eq("id", id).Single(r.Context())
	if err != nil {
		writeError(w, storageStatus(err), "Failed to read row", err, a.logger)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "Record not found", nil, a.logger)
		return
	}
	if len(a.access.FilterResults(r.Context(), session.CurrentUser(), table, []storage.Row{row})) == 0 {
		writeError(w, http.StatusNotFound, "Record not found", nil, a.logger)
		return
	}
	table.Redact(row)
	a.respondJSON(w, row, http.StatusOK)
}

// checkColumns rejects fields the table does not have.
func (a *API) checkColumns(ctx context.Context, table storage.Table, rec storage.Row) (map[string]bool, error) {
	cols, err := a.store.TableColumns(ctx, a.store.DB, table)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	for k := range rec {
		if !known[k] {
			return known, fmt.Errorf("unknown column %q for table %s", k, table)
		}
	}
	return known, nil
}

// normalizeBody turns decoded JSON numbers into int64 or float64 and nested
// values into JSON text, matching how the store keeps them.
func normalizeBody(body map[string]any) (storage.Row, error) {
	rec := make(storage.Row, len(body))
	for k, v := range body {
		switch x := v.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				rec[k] = i
			} else if f, err := x.Float64(); err == nil {
				rec[k] = f
			} else {
				return nil, fmt.Errorf("invalid number for %s", k)
			}
		case bool:
			if x {
				rec[k] = int64(1)
			} else {
				rec[k] = int64(0)
			}
		case []any, map[string]any:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, err
			}
			rec[k] = string(b)
		default:
			rec[k] = v
		}
	}
	return rec, nil
}

// checkWritableColumns refuses writes to columns the caller may not set.
func (a *API) checkWritableColumns(w http.ResponseWriter, table storage.Table, verb access.Verb, rec storage.Row) bool {
	cols := make([]string, 0, len(rec))
	for k := range rec {
		cols = append(cols, k)
	}
	if err := a.access.ValidateColumns(table, verb, cols); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

// checkEngagementTarget refuses rows that name an engagement the user is not
// a member of, so records cannot be added to or moved into one.
func (a *API) checkEngagementTarget(w http.ResponseWriter, r *http.Request, user *storage.Profile, table storage.Table, rec storage.Row) bool {
	engagementID, _ := rec["engagement_id"].(string)
	if engagementID == "" || table == storage.TableEngagements {
		return true
	}
	if err := a.access.ValidateAccess(r.Context(), user, storage.TableEngagements, access.VerbSelect, engagementID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

func (a *API) createRow(w http.ResponseWriter, r *http.Request) {
	session, table, ok := a.requestScope(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if !a.decodeJSONBody(w, r, &body) {
		return
	}
	rec, err := normalizeBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if len(rec) == 0 {
		writeError(w, http.StatusBadRequest, "Record must not be empty", nil, a.logger)
		return
	}

	known, err := a.checkColumns(r.Context(), table, rec)
	if err != nil {
		if known == nil {
			writeError(w, http.StatusInternalServerError, "Failed to read table columns", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	if !a.checkWritableColumns(w, table, access.VerbInsert, rec) {
		return
	}

	user := session.CurrentUser()
	if known["created_by"] {
		if _, set := rec["created_by"]; !set {
			rec["created_by"] = user.UserID
		}
	}

	if !a.checkEngagementTarget(w, r, user, table, rec) {
		return
	}

	row, err := session.From(table).Insert(r.Context(), rec)
	if err != nil {
		writeError(w, storageStatus(err), "Failed to create row", err, a.logger)
		return
	}
	a.recordActivity(r, user, "create", table, row)
	table.Redact(row)
	a.respondJSON(w, row, http.StatusCreated)
}

func (a *API) updateRow(w http.ResponseWriter, r *http.Request) {
	session, table, ok := a.requestScope(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var body map[string]any
	if !a.decodeJSONBody(w, r, &body) {
		return
	}
	patch, err := normalizeBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	delete(patch, "id")
	if _, err := a.checkColumns(r.Context(), table, patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if !a.checkWritableColumns(w, table, access.VerbUpdate, patch) {
		return
	}
	if !a.checkEngagementTarget(w, r, session.CurrentUser(), table, patch) {
		return
	}

	rows, err := session.From(table).Eq("id", id).Update(r.Context(), patch)
	if err != nil {
		writeError(w, storageStatus(err), "Failed to update row", err, a.logger)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "Record not found", nil, a.logger)
		return
	}
	a.recordActivity(r, session.CurrentUser(), "update", table, rows[0])
	table.Redact(rows[0])
	a.respondJSON(w, rows[0], http.StatusOK)
}

func (a *API) deleteRow(w http.ResponseWriter, r *http.Request) {
	session, table, ok := a.requestScope(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	existing, err := session.From(table).Eq("id", id).Single(r.Context())
	if err != nil {
		writeError(w, storageStatus(err), "Failed to read row", err, a.logger)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Record not found", nil, a.logger)
		return
	}

	if _, err := session.From(table).Eq("id", id).Delete(r.Context()); err != nil {
		writeError(w, storageStatus(err), "Failed to delete row", err, a.logger)
		return
	}
	a.recordActivity(r, session.CurrentUser(), "delete", table, existing)
	w.WriteHeader(http.StatusNoContent)
}

// recordActivity appends an activity log entry for a mutation. Failures are
// logged and do not fail the request.
func (a *API) recordActivity(r *http.Request, user *storage.Profile, action string, table storage.Table, row storage.Row) {
	if table == storage.TableActivityLogs || table == storage.TableAuditTrail {
		return
	}
	engagementID := row.String("engagement_id")
	if table == storage.TableEngagements && action != "delete" {
		engagementID = row.ID()
	}
	err := a.store.LogActivity(r.Context(), storage.ActivityEntry{
		UserID:       user.UserID,
		UserName:     user.FullName,
		Action:       action,
		Entity:       string(table),
		EntityID:     row.ID(),
		EngagementID: engagementID,
		IPAddress:    clientIP(r),
		Metadata:     map[string]any{"request_id": GetRequestIDOrDefault(r.Context())},
	})
	if err != nil {
		a.logger.Warnw("Failed to record activity", "table", table, "action", action, "error", err)
	}
}
