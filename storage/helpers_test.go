package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// setupTestSQLite creates a bootstrapped database in a temp directory.
func setupTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sqlite, err := NewSQLite(context.Background(), dbPath, zap.NewNop().Sugar())
	require.NoError(t, err, "Failed to create SQLite database")
	require.NotNil(t, sqlite.DB)
	t.Cleanup(func() { _ = sqlite.Close() })

	return sqlite
}

func testAuthOptions() AuthOptions {
	opts := DefaultAuthOptions()
	opts.BcryptCost = bcrypt.MinCost
	return opts
}

func newTestSession(t *testing.T, s *SQLite) *Session {
	t.Helper()
	return NewSession(s, testAuthOptions(), zap.NewNop().Sugar())
}

// createTestUser signs up a user and grants extra roles.
func createTestUser(t *testing.T, s *SQLite, email string, roles ...Role) *Profile {
	t.Helper()
	ctx := context.Background()
	p, err := newTestSession(t, s).Signup(ctx, email, "correct-horse", "Test "+email)
	require.NoError(t, err)
	for _, r := range roles {
		require.NoError(t, s.AssignRole(ctx, p.UserID, r))
	}
	return p
}

// createTestEngagement inserts an engagement created by createdBy.
func createTestEngagement(t *testing.T, s *SQLite, name, createdBy string) string {
	t.Helper()
	row, err := s.From(TableEngagements).Insert(context.Background(), Row{
		"name":       name,
		"created_by": createdBy,
	})
	require.NoError(t, err)
	return row.ID()
}
