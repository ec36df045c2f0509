package api

import (
	"context"

	"auditdesk/storage"
)

// contextKey is a private type to prevent context key collisions across packages.
type contextKey string

const (
	// ContextKeySession stores the request's *storage.Session
	ContextKeySession contextKey = "session"

	// ContextKeyTable stores the parsed storage.Table of a table route
	ContextKeyTable contextKey = "table"

	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"
)

// GetSession extracts the authenticated session from the context.
func GetSession(ctx context.Context) (*storage.Session, bool) {
	s, ok := ctx.Value(ContextKeySession).(*storage.Session)
	return s, ok && s != nil
}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *storage.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, s)
}

// GetTable extracts the table resolved by the access middleware.
func GetTable(ctx context.Context) (storage.Table, bool) {
	t, ok := ctx.Value(ContextKeyTable).(storage.Table)
	return t, ok
}

// WithTable returns a context carrying t.
func WithTable(ctx context.Context, t storage.Table) context.Context {
	return context.WithValue(ctx, ContextKeyTable, t)
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}

// GetRequestIDOrDefault returns the request ID or "unknown", for logging.
func GetRequestIDOrDefault(ctx context.Context) string {
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}

// WithRequestID creates a new context with the request ID value.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}
