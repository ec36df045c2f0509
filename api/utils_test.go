package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"auditdesk/access"
	"auditdesk/storage"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in      string
		notWant string
	}{
		{"dial postgres://admin:pw@db.internal:5432/prod failed", "admin:pw"},
		{"open /home/ca/data/auditdesk.db: permission denied", "/home/ca"},
		{"bad token=eyJhbGciOi", "eyJhbGciOi"},
	}
	for _, tt := range tests {
		got := sanitizeErrorMessage(tt.in)
		assert.NotContains(t, got, tt.notWant)
	}

	long := sanitizeErrorMessage(strings.Repeat("x", 2*maxErrorMessageLength))
	assert.Len(t, long, maxErrorMessageLength)
}

func TestStorageStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", storage.ErrInvalidIdentifier), http.StatusBadRequest},
		{storage.ErrEmptyPatch, http.StatusBadRequest},
		{errors.Join(storage.ErrConstraintViolation, errors.New("UNIQUE")), http.StatusConflict},
		{storage.ErrBusy, http.StatusServiceUnavailable},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, storageStatus(tt.err), tt.err.Error())
	}
}

func TestVerbForMethod(t *testing.T) {
	tests := []struct {
		method string
		want   access.Verb
		ok     bool
	}{
		{http.MethodGet, access.VerbSelect, true},
		{http.MethodPost, access.VerbInsert, true},
		{http.MethodPatch, access.VerbUpdate, true},
		{http.MethodDelete, access.VerbDelete, true},
		{http.MethodPut, "", false},
	}
	for _, tt := range tests {
		got, ok := verbForMethod(tt.method)
		assert.Equal(t, tt.ok, ok, tt.method)
		assert.Equal(t, tt.want, got, tt.method)
	}
}

func TestNormalizeBody(t *testing.T) {
	rec, err := normalizeBody(map[string]any{
		"count":  jsonNumber("3"),
		"amount": jsonNumber("12.5"),
		"flag":   true,
		"tags":   []any{"a", "b"},
		"name":   "x",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(3), rec["count"])
	assert.Equal(t, 12.5, rec["amount"])
	assert.Equal(t, int64(1), rec["flag"])
	assert.Equal(t, `["a","b"]`, rec["tags"])
	assert.Equal(t, "x", rec["name"])
}

func jsonNumber(s string) any {
	return json.Number(s)
}
