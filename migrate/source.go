package migrate

import (
	"context"

	"auditdesk/storage"
)

// Source reads rows of the hosted backend a page at a time. Pages must be
// stable across calls (a fixed ordering) for offsets to be meaningful.
type Source interface {
	FetchPage(ctx context.Context, table storage.Table, offset, limit int) ([]map[string]any, error)
}

// Counter is implemented by sources that can report a table's size up front,
// letting the engine fetch exactly the pages it needs.
type Counter interface {
	Count(ctx context.Context, table storage.Table) (int, error)
}

// Closer is implemented by sources holding a connection.
type Closer interface {
	Close() error
}
