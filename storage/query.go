package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"auditdesk/metrics"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type predicate struct {
	clause string
	args   []any
}

// Query is a single-use, parameterized query against one table. Chain methods
// record filters; the first terminal method (List, Single, Insert, InsertMany,
// Update, Delete) executes and consumes the builder.
//
// Chain methods never fail. A bad identifier or range is remembered and
// returned by the terminal call.
type Query struct {
	sqlite *SQLite
	tx     *sql.Tx
	table  Table

	columns  []string
	where    []predicate
	orderBy  []string
	limit    int
	hasLimit bool
	offset   int

	err      error
	consumed bool
}

func newQuery(s *SQLite, tx *sql.Tx, table Table) *Query {
	q := &Query{sqlite: s, tx: tx, table: table}
	if !table.Valid() {
		q.err = fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return q
}

// From starts an unscoped query. Callers acting for a user go through
// Session.From so the access layer sees who is asking.
func (s *SQLite) From(table Table) *Query {
	return newQuery(s, nil, table)
}

// Table returns the table the query targets.
func (q *Query) Table() Table {
	return q.table
}

func (q *Query) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

func (q *Query) ident(col string) (string, bool) {
	if !identifierPattern.MatchString(col) {
		q.fail(fmt.Errorf("%w: %q", ErrInvalidIdentifier, col))
		return "", false
	}
	return `"` + col + `"`, true
}

// Select restricts the returned columns. No call, or "*", selects all.
func (q *Query) Select(cols ...string) *Query {
	for _, c := range cols {
		if c == "*" {
			q.columns = append(q.columns, "*")
			continue
		}
		if id, ok := q.ident(c); ok {
			q.columns = append(q.columns, id)
		}
	}
	return q
}

// Eq adds col = value. A nil value matches NULL.
func (q *Query) Eq(col string, value any) *Query {
	id, ok := q.ident(col)
	if !ok {
		return q
	}
	if value == nil {
		q.where = append(q.where, predicate{clause: id + " IS NULL"})
		return q
	}
	q.where = append(q.where, predicate{clause: id + " = ?", args: []any{value}})
	return q
}

// Neq adds col != value. A nil value matches NOT NULL.
func (q *Query) Neq(col string, value any) *Query {
	id, ok := q.ident(col)
	if !ok {
		return q
	}
	if value == nil {
		q.where = append(q.where, predicate{clause: id + " IS NOT NULL"})
		return q
	}
	q.where = append(q.where, predicate{clause: id + " != ?", args: []any{value}})
	return q
}

// Like adds col LIKE pattern.
func (q *Query) Like(col, pattern string) *Query {
	if id, ok := q.ident(col); ok {
		q.where = append(q.where, predicate{clause: id + " LIKE ?", args: []any{pattern}})
	}
	return q
}

// In adds col IN (values...). An empty list matches nothing.
func (q *Query) In(col string, values ...any) *Query {
	id, ok := q.ident(col)
	if !ok {
		return q
	}
	if len(values) == 0 {
		q.where = append(q.where, predicate{clause: "1 = 0"})
		return q
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	args := make([]any, len(values))
	copy(args, values)
	q.where = append(q.where, predicate{clause: id + " IN (" + placeholders + ")", args: args})
	return q
}

// IsNull adds col IS NULL.
func (q *Query) IsNull(col string) *Query {
	if id, ok := q.ident(col); ok {
		q.where = append(q.where, predicate{clause: id + " IS NULL"})
	}
	return q
}

// Order appends an ORDER BY term. Terms apply in call order.
func (q *Query) Order(col string, ascending bool) *Query {
	id, ok := q.ident(col)
	if !ok {
		return q
	}
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	q.orderBy = append(q.orderBy, id+" "+dir)
	return q
}

// Limit caps the number of rows returned.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		q.fail(fmt.Errorf("%w: negative limit %d", ErrInvalidRange, n))
		return q
	}
	q.limit = n
	q.hasLimit = true
	return q
}

// Range selects rows from..to inclusive, zero-based.
func (q *Query) Range(from, to int) *Query {
	if from < 0 || to < from {
		q.fail(fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to))
		return q
	}
	q.limit = to - from + 1
	q.hasLimit = true
	q.offset = from
	return q
}

func (q *Query) whereClause() (string, []any) {
	if len(q.where) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(q.where))
	var args []any
	for _, p := range q.where {
		parts = append(parts, p.clause)
		args = append(args, p.args...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// Compile renders the SELECT statement without executing or consuming the query.
func (q *Query) Compile() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	return q.compileSelect(q.limit, q.hasLimit)
}

func (q *Query) compileSelect(limit int, hasLimit bool) (string, []any, error) {
	cols := "*"
	if len(q.columns) > 0 {
		cols = strings.Join(q.columns, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM "%s"`, cols, q.table)
	where, args := q.whereClause()
	b.WriteString(where)
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	switch {
	case hasLimit:
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.offset)
	case q.offset > 0:
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.offset)
	}
	return b.String(), args, nil
}

// begin marks the query consumed and reports any deferred builder error.
func (q *Query) begin() error {
	if q.consumed {
		return ErrQueryConsumed
	}
	q.consumed = true
	if q.sqlite == nil || q.sqlite.DB == nil {
		return ErrDatabaseClosed
	}
	return q.err
}

func (q *Query) exec() Executor {
	if q.tx != nil {
		return q.tx
	}
	return q.sqlite.DB
}

func observe(op string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func queryRows(ctx context.Context, exec Executor, stmt string, args ...any) ([]Row, error) {
	rows, err := exec.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}

// List returns every matching row. The slice is empty, not nil, when nothing matches.
func (q *Query) List(ctx context.Context) ([]Row, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	defer observe("select", time.Now())

	stmt, args, err := q.compileSelect(q.limit, q.hasLimit)
	if err != nil {
		return nil, err
	}
	rows, err := queryRows(ctx, q.exec(), stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.table, err)
	}
	return rows, nil
}

// Single returns the first matching row, or (nil, nil) when none matches.
func (q *Query) Single(ctx context.Context) (Row, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	defer observe("select", time.Now())

	stmt, args, err := q.compileSelect(1, true)
	if err != nil {
		return nil, err
	}
	rows, err := queryRows(ctx, q.exec(), stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (q *Query) sortedColumns(rec Row) ([]string, error) {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		if !identifierPattern.MatchString(c) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

func (q *Query) insertOne(ctx context.Context, exec Executor, rec Row) (Row, error) {
	if len(rec) == 0 {
		return nil, ErrEmptyRecord
	}
	cols, err := q.sortedColumns(rec)
	if err != nil {
		return nil, err
	}
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
		args[i] = rec[c]
	}
	stmt := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) RETURNING *`,
		q.table, strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	rows, err := queryRows(ctx, exec, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", q.table, err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("insert into %s returned %d rows", q.table, len(rows))
	}
	return rows[0], nil
}

// Insert stores one record and returns the stored row, defaults included.
func (q *Query) Insert(ctx context.Context, rec Row) (Row, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	defer observe("insert", time.Now())
	return q.insertOne(ctx, q.exec(), rec)
}

// InsertMany stores all records atomically and returns them in input order.
func (q *Query) InsertMany(ctx context.Context, recs []Row) ([]Row, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	defer observe("insert", time.Now())

	out := make([]Row, 0, len(recs))
	insertAll := func(tx *sql.Tx) error {
		for i, rec := range recs {
			row, err := q.insertOne(ctx, tx, rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, row)
		}
		return nil
	}

	if q.tx != nil {
		if err := insertAll(q.tx); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := q.sqlite.WithTransaction(ctx, insertAll); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies patch to every matching row and returns the post-update set
// of rows matching the same filters. A row the patch moves out of the filter
// is updated but not returned.
func (q *Query) Update(ctx context.Context, patch Row) ([]Row, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, ErrEmptyPatch
	}
	defer observe("update", time.Now())

	cols, err := q.sortedColumns(patch)
	if err != nil {
		return nil, err
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		sets[i] = `"` + c + `" = ?`
		args = append(args, patch[c])
	}
	where, whereArgs := q.whereClause()
	args = append(args, whereArgs...)
	stmt := fmt.Sprintf(`UPDATE "%s" SET %s%s RETURNING rowid AS "_rowid"`, q.table, strings.Join(sets, ", "), where)

	var out []Row
	apply := func(tx *sql.Tx) error {
		touched, err := queryRows(ctx, tx, stmt, args...)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", q.table, err)
		}
		out, err = q.reselect(ctx, tx, touched)
		return err
	}
	if q.tx != nil {
		err = apply(q.tx)
	} else {
		err = q.sqlite.WithTransaction(ctx, apply)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reselect reads the updated rows back through the query's filters.
func (q *Query) reselect(ctx context.Context, tx *sql.Tx, touched []Row) ([]Row, error) {
	if len(touched) == 0 {
		return make([]Row, 0), nil
	}
	args := make([]any, 0, len(touched)+len(q.where))
	for _, r := range touched {
		args = append(args, r["_rowid"])
	}
	clauses := []string{"rowid IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(touched)), ", ") + ")"}
	for _, p := range q.where {
		clauses = append(clauses, p.clause)
		args = append(args, p.args...)
	}
	stmt := fmt.Sprintf(`SELECT * FROM "%s" WHERE %s ORDER BY rowid`, q.table, strings.Join(clauses, " AND "))
	rows, err := queryRows(ctx, tx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", q.table, err)
	}
	return rows, nil
}

// Delete removes every matching row and returns how many were removed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if err := q.begin(); err != nil {
		return 0, err
	}
	defer observe("delete", time.Now())

	where, args := q.whereClause()
	res, err := q.exec().ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s"%s`, q.table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", q.table, classifyError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// IsConstraintViolation reports whether err came from a violated constraint.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}
