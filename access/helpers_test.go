package access

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"auditdesk/storage"
)

type fixture struct {
	db     *storage.SQLite
	engine *Engine
}

func setupFixture(t *testing.T, coverage FilterCoverage) *fixture {
	t.Helper()
	db, err := storage.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "access.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine, err := New(db, Options{Coverage: coverage}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return &fixture{db: db, engine: engine}
}

func (f *fixture) user(t *testing.T, email string, roles ...storage.Role) *storage.Profile {
	t.Helper()
	opts := storage.DefaultAuthOptions()
	opts.BcryptCost = bcrypt.MinCost
	p, err := storage.NewSession(f.db, opts, zap.NewNop().Sugar()).
		Signup(context.Background(), email, "correct-horse", email)
	require.NoError(t, err)
	for _, r := range roles {
		require.NoError(t, f.db.AssignRole(context.Background(), p.UserID, r))
	}
	return p
}

func (f *fixture) insert(t *testing.T, table storage.Table, rec storage.Row) storage.Row {
	t.Helper()
	row, err := f.db.From(table).Insert(context.Background(), rec)
	require.NoError(t, err)
	return row
}

func (f *fixture) engagement(t *testing.T, createdBy string) string {
	t.Helper()
	return f.insert(t, storage.TableEngagements, storage.Row{"name": "FY24", "created_by": createdBy}).ID()
}

// failingStore returns err from every lookup.
type failingStore struct{ err error }

func (s failingStore) UserRoles(context.Context, string) ([]storage.Role, error) {
	return nil, s.err
}

func (s failingStore) HasEngagementAccess(context.Context, string, string) (bool, error) {
	return false, s.err
}

func (s failingStore) RecordColumn(context.Context, storage.Table, string, string) (string, bool, error) {
	return "", false, s.err
}

func (s failingStore) UserFirmID(context.Context, string) (string, error) {
	return "", s.err
}

var errLookup = errors.New("disk I/O error")
