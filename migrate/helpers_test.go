package migrate

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auditdesk/storage"
)

func setupTestDest(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "auditdesk.db")
	s, err := storage.NewSQLite(context.Background(), dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// pagedSource serves in-memory tables and records every fetch.
type pagedSource struct {
	mu      sync.Mutex
	tables  map[storage.Table][]map[string]any
	failOn  map[storage.Table]error
	fetches map[storage.Table]int
}

func newPagedSource(tables map[storage.Table][]map[string]any) *pagedSource {
	return &pagedSource{
		tables:  tables,
		failOn:  make(map[storage.Table]error),
		fetches: make(map[storage.Table]int),
	}
}

func (s *pagedSource) FetchPage(ctx context.Context, table storage.Table, offset, limit int) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[table]++
	if err := s.failOn[table]; err != nil {
		return nil, err
	}
	rows := s.tables[table]
	if offset >= len(rows) {
		return nil, nil
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end], nil
}

func (s *pagedSource) fetchCount(table storage.Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[table]
}

// countedSource adds an up-front row count.
type countedSource struct {
	*pagedSource
}

func (s countedSource) Count(ctx context.Context, table storage.Table) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table]), nil
}

func clientRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"id":       fmt.Sprintf("client-%04d", i),
			"name":     fmt.Sprintf("Client %d", i),
			"industry": "Manufacturing",
		}
	}
	return rows
}

func newTestEngine(t *testing.T, dest *storage.SQLite, src Source, batch int) *Engine {
	t.Helper()
	e, err := NewEngine(dest, src, Config{BatchSize: batch, ReportDir: t.TempDir(), SourceName: "test"}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return e
}

func countRows(t *testing.T, dest *storage.SQLite, table storage.Table) int {
	t.Helper()
	rows, err := dest.From(table).List(context.Background())
	require.NoError(t, err)
	return len(rows)
}
