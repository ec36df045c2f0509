package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auditdesk/storage"
)

func TestOrder_CoversEveryTableOnce(t *testing.T) {
	seen := make(map[storage.Table]int)
	for _, table := range Order() {
		seen[table]++
	}
	all := storage.AllTables()
	assert.Len(t, Order(), len(all))
	for _, table := range all {
		assert.Equal(t, 1, seen[table], "table %s", table)
	}
}

func TestOrder_ParentsBeforeChildren(t *testing.T) {
	pos := make(map[storage.Table]int)
	for i, table := range Order() {
		pos[table] = i
	}
	pairs := [][2]storage.Table{
		{storage.TableProfiles, storage.TableUserRoles},
		{storage.TableClients, storage.TableEngagements},
		{storage.TableEngagements, storage.TableEngagementAssignments},
		{storage.TableEngagements, storage.TableRisks},
		{storage.TableAuditProcedures, storage.TableProcedureChecklistItems},
		{storage.TableAuditProgramsNew, storage.TableAuditProgramSections},
		{storage.TableAuditProgramSections, storage.TableAuditProgramBoxes},
		{storage.TableGoingConcernWorkpapers, storage.TableGoingConcernChecklistItems},
		{storage.TableFeedbackReports, storage.TableFeedbackAttachments},
	}
	for _, p := range pairs {
		assert.Less(t, pos[p[0]], pos[p[1]], "%s must precede %s", p[0], p[1])
	}
}

func TestNewEngine_Validation(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := NewEngine(nil, nil, Config{}, logger)
	assert.Error(t, err)

	_, err = NewEngine(nil, newPagedSource(nil), Config{RateLimit: -1}, logger)
	assert.Error(t, err)

	e, err := NewEngine(nil, newPagedSource(nil), Config{}, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, e.cfg.BatchSize)
}

func TestEngine_RunIsIdempotent(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableFirmSettings: {
			{"id": "firm-1", "firm_name": "Mehta & Co", "no_of_partners": 3},
		},
		storage.TableClients: clientRows(7),
	})
	e := newTestEngine(t, dest, countedSource{src}, 3)
	ctx := context.Background()

	first, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, first.Summary.Imported)
	assert.Zero(t, first.Summary.Errors)
	assert.Len(t, first.Stats, len(Order()))

	second, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, second.Summary.Imported)

	assert.Equal(t, 1, countRows(t, dest, storage.TableFirmSettings))
	assert.Equal(t, 7, countRows(t, dest, storage.TableClients))
}

func TestEngine_UpsertUpdatesInPlace(t *testing.T) {
	dest := setupTestDest(t)
	ctx := context.Background()

	tables := map[storage.Table][]map[string]any{
		storage.TableClients: {{"id": "c1", "name": "Before"}},
	}
	_, err := newTestEngine(t, dest, newPagedSource(tables), 10).RunTables(ctx, []string{"clients"})
	require.NoError(t, err)

	// A child row referencing the client must survive the second load.
	_, err = dest.From(storage.TableEngagements).Insert(ctx, storage.Row{
		"client_id": "c1", "name": "FY25 audit", "created_by": "u1",
	})
	require.NoError(t, err)

	tables[storage.TableClients][0]["name"] = "After"
	report, err := newTestEngine(t, dest, newPagedSource(tables), 10).RunTables(ctx, []string{"clients"})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.Errors)

	row, err := dest.From(storage.TableClients).Eq("id", "c1").Single(ctx)
	require.NoError(t, err)
	assert.Equal(t, "After", row.String("name"))
}

func TestEngine_PageFetches(t *testing.T) {
	const batch = 10

	tests := []struct {
		rows int
	}{
		{0}, {1}, {9}, {10}, {11}, {20}, {25},
	}

	for _, tt := range tests {
		t.Run("counted", func(t *testing.T) {
			dest := setupTestDest(t)
			src := newPagedSource(map[storage.Table][]map[string]any{storage.TableClients: clientRows(tt.rows)})
			e := newTestEngine(t, dest, countedSource{src}, batch)

			report, err := e.RunTables(context.Background(), []string{"clients"})
			require.NoError(t, err)

			want := (tt.rows + batch - 1) / batch
			assert.Equal(t, want, src.fetchCount(storage.TableClients), "rows=%d", tt.rows)
			stat, ok := report.Stat("clients")
			require.True(t, ok)
			assert.Equal(t, want, stat.Pages)
			assert.Equal(t, tt.rows, stat.Imported)
		})

		t.Run("uncounted", func(t *testing.T) {
			dest := setupTestDest(t)
			src := newPagedSource(map[storage.Table][]map[string]any{storage.TableClients: clientRows(tt.rows)})
			e := newTestEngine(t, dest, src, batch)

			_, err := e.RunTables(context.Background(), []string{"clients"})
			require.NoError(t, err)

			// Without a count, paging stops at the first short or empty page.
			assert.Equal(t, tt.rows/batch+1, src.fetchCount(storage.TableClients), "rows=%d", tt.rows)
			assert.Equal(t, tt.rows, countRows(t, dest, storage.TableClients))
		})
	}
}

func TestEngine_RowFailureIsIsolated(t *testing.T) {
	dest := setupTestDest(t)
	rows := clientRows(4)
	delete(rows[1], "name") // violates NOT NULL
	src := newPagedSource(map[storage.Table][]map[string]any{storage.TableClients: rows})

	report, err := newTestEngine(t, dest, src, 10).RunTables(context.Background(), []string{"clients"})
	require.NoError(t, err)

	stat, _ := report.Stat("clients")
	assert.Equal(t, 4, stat.Exported)
	assert.Equal(t, 3, stat.Imported)
	assert.Equal(t, 1, stat.Errors)
	assert.Equal(t, 3, countRows(t, dest, storage.TableClients))
	assert.Len(t, report.FailedTables(), 1)
}

func TestEngine_ForeignKeyFailureIsIsolated(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableRisks: {
			{"id": "r1", "engagement_id": "missing", "area": "Revenue", "description": "Cut-off"},
		},
	})

	report, err := newTestEngine(t, dest, src, 10).RunTables(context.Background(), []string{"risks"})
	require.NoError(t, err)

	stat, _ := report.Stat("risks")
	assert.Equal(t, 0, stat.Imported)
	assert.Equal(t, 1, stat.Errors)
}

func TestEngine_FetchErrorAbortsOnlyThatTable(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableFirmSettings: {{"id": "f1", "firm_name": "Firm"}},
		storage.TableClients:      clientRows(2),
	})
	src.failOn[storage.TableFirmSettings] = errors.New("connection reset")

	report, err := newTestEngine(t, dest, src, 10).Run(context.Background())
	require.NoError(t, err)

	firm, _ := report.Stat("firm_settings")
	assert.Equal(t, 1, firm.Errors)
	assert.Zero(t, firm.Imported)

	clients, _ := report.Stat("clients")
	assert.Equal(t, 2, clients.Imported)
	assert.Zero(t, clients.Errors)
}

func TestEngine_RunTables(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableFirmSettings: {{"id": "f1", "firm_name": "Firm"}},
		storage.TableClients:      clientRows(2),
	})

	report, err := newTestEngine(t, dest, src, 10).RunTables(context.Background(),
		[]string{"clients", "not_a_table", "firm_settings"})
	require.NoError(t, err)

	require.Len(t, report.Stats, 2)
	assert.Equal(t, "firm_settings", report.Stats[0].Table)
	assert.Equal(t, "clients", report.Stats[1].Table)
	assert.Zero(t, src.fetchCount(storage.TableProfiles))
}

func TestEngine_DropsUnknownColumns(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableClients: {
			{"id": "c1", "name": "Acme", "legacy_code": "X1"},
			{"id": "c2", "name": "Globex", "legacy_code": "X2"},
		},
	})

	report, err := newTestEngine(t, dest, src, 10).RunTables(context.Background(), []string{"clients"})
	require.NoError(t, err)
	stat, _ := report.Stat("clients")
	assert.Equal(t, 2, stat.Imported)
	assert.Zero(t, stat.Errors)
}

func TestEngine_TransformsValues(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableProfiles: {{
			"id":        "p1",
			"user_id":   "u1",
			"email":     "a@example.com",
			"full_name": "Asha",
			"is_active": false,
		}},
	})

	_, err := newTestEngine(t, dest, src, 10).RunTables(context.Background(), []string{"profiles"})
	require.NoError(t, err)

	p, err := dest.ProfileByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, p.IsActive)
}

func TestEngine_CancelledContext(t *testing.T) {
	dest := setupTestDest(t)
	src := newPagedSource(map[storage.Table][]map[string]any{storage.TableClients: clientRows(5)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestEngine(t, dest, src, 2).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Less(t, len(report.Stats), len(Order()))
}

func TestEngine_WritesReport(t *testing.T) {
	dest := setupTestDest(t)
	dir := t.TempDir()
	e, err := NewEngine(dest, newPagedSource(nil), Config{BatchSize: 5, ReportDir: dir, SourceName: "archive.json"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = e.RunTables(context.Background(), []string{"clients"})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "migration-report-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sqlite_path"`)
	assert.Contains(t, string(data), `"batch_size": 5`)
	assert.Contains(t, string(data), `"source": "archive.json"`)
}

func TestEngine_CancelledRunWritesPartialReport(t *testing.T) {
	dest := setupTestDest(t)
	dir := t.TempDir()
	src := newPagedSource(map[storage.Table][]map[string]any{storage.TableClients: clientRows(5)})
	e, err := NewEngine(dest, src, Config{BatchSize: 2, ReportDir: dir, SourceName: "test"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Contains(t, report.Interrupted, "migration interrupted")

	matches, err := filepath.Glob(filepath.Join(dir, "migration-report-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"interrupted": "migration interrupted at`)
	assert.Contains(t, string(data), `"source": "test"`)
}

func TestEngine_RunRequiresDestination(t *testing.T) {
	e, err := NewEngine(nil, newPagedSource(nil), Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_Export(t *testing.T) {
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableClients: clientRows(12),
		storage.TableRisks:   {{"id": "r1", "engagement_id": "e1", "area": "Revenue", "description": "Cut-off"}},
	})
	src.failOn[storage.TableNotifications] = errors.New("permission denied")

	e, err := NewEngine(nil, src, Config{BatchSize: 5}, zap.NewNop().Sugar())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup", "export.json")
	archive, err := e.Export(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, archive.Tables, len(Order()))
	assert.Len(t, archive.Tables["clients"], 12)
	assert.Empty(t, archive.Tables["notifications"])

	back, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Len(t, back.Tables["clients"], 12)
	assert.Equal(t, "Revenue", back.Tables["risks"][0]["area"])
}

func TestEngine_ReplayArchive(t *testing.T) {
	src := newPagedSource(map[storage.Table][]map[string]any{
		storage.TableFirmSettings: {{"id": "f1", "firm_name": "Firm", "no_of_partners": 4}},
		storage.TableClients:      clientRows(3),
	})
	exporter, err := NewEngine(nil, src, Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.json")
	_, err = exporter.Export(context.Background(), path)
	require.NoError(t, err)

	archiveSrc, err := OpenArchiveSource(path)
	require.NoError(t, err)
	dest := setupTestDest(t)
	report, err := newTestEngine(t, dest, archiveSrc, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Summary.Imported)

	row, err := dest.From(storage.TableFirmSettings).Eq("id", "f1").Single(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, row["no_of_partners"])
}

func TestUpsertStatement(t *testing.T) {
	tests := []struct {
		name string
		cols []string
		want string
	}{
		{
			name: "with id",
			cols: []string{"id", "name"},
			want: `INSERT INTO "clients" ("id", "name") VALUES (?, ?) ON CONFLICT("id") DO UPDATE SET "name" = excluded."name"`,
		},
		{
			name: "id only",
			cols: []string{"id"},
			want: `INSERT INTO "clients" ("id") VALUES (?) ON CONFLICT("id") DO NOTHING`,
		},
		{
			name: "without id",
			cols: []string{"name"},
			want: `INSERT INTO "clients" ("name") VALUES (?)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upsertStatement(storage.TableClients, tt.cols))
		})
	}
}
