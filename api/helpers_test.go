package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"auditdesk/access"
	"auditdesk/config"
	"auditdesk/storage"
)

const testSecret = "q8Zr5mV1xN3kP7tL2wB9cF4hJ6yD0sGa"

type testEnv struct {
	api   *API
	store *storage.SQLite
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.PasswordPolicy.MinLength = 8
	cfg.Auth.PasswordPolicy.MaxLength = 72
	cfg.Access.FilterCoverage = config.FilterCoverageRegistry
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8787
	return cfg
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := access.New(store, access.Options{Coverage: access.CoverageRegistry}, zap.NewNop().Sugar())
	require.NoError(t, err)

	a, err := NewAPI(store, engine, testConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testEnv{api: a, store: store}
}

func (e *testEnv) user(t *testing.T, email string, roles ...storage.Role) *storage.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := storage.NewSession(e.store, e.api.authOpts, zap.NewNop().Sugar()).
		Signup(ctx, email, "correct-horse", "User "+email)
	require.NoError(t, err)
	for _, r := range roles {
		require.NoError(t, e.store.AssignRole(ctx, p.UserID, r))
	}
	return p
}

func (e *testEnv) token(t *testing.T, p *storage.Profile) string {
	t.Helper()
	token, _, err := generateJWT(p, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

type listResponse struct {
	Data  []map[string]any `json:"data"`
	Count int              `json:"count"`
}

func requireStatus(t *testing.T, want int, rr *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rr.Code, "body: %s", rr.Body.String())
}

