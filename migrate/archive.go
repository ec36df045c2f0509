package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auditdesk/storage"
)

// Archive is the JSON backup written by Export and read by ArchiveSource.
type Archive struct {
	Timestamp time.Time                   `json:"timestamp"`
	Tables    map[string][]map[string]any `json:"tables"`
}

// ReadArchive loads an archive file. Numbers are kept exact.
func ReadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var a Archive
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode archive %s: %w", path, err)
	}
	if a.Tables == nil {
		a.Tables = make(map[string][]map[string]any)
	}
	return &a, nil
}

// WriteArchive writes a to path, creating parent directories.
func WriteArchive(path string, a *Archive) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// ArchiveSource serves pages from an archive, for offline replays.
type ArchiveSource struct {
	archive *Archive
}

// NewArchiveSource wraps an already loaded archive.
func NewArchiveSource(a *Archive) *ArchiveSource {
	return &ArchiveSource{archive: a}
}

// OpenArchiveSource loads path and serves it.
func OpenArchiveSource(path string) (*ArchiveSource, error) {
	a, err := ReadArchive(path)
	if err != nil {
		return nil, err
	}
	return NewArchiveSource(a), nil
}

// FetchPage returns rows offset..offset+limit of table. Tables absent from the
// archive are empty.
func (s *ArchiveSource) FetchPage(ctx context.Context, table storage.Table, offset, limit int) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := s.archive.Tables[string(table)]
	if offset >= len(rows) {
		return []map[string]any{}, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := make([]map[string]any, end-offset)
	copy(page, rows[offset:end])
	return page, nil
}

// Count returns the number of archived rows of table.
func (s *ArchiveSource) Count(ctx context.Context, table storage.Table) (int, error) {
	return len(s.archive.Tables[string(table)]), nil
}
