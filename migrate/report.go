package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TableStats records the outcome for one table.
type TableStats struct {
	Table      string `json:"table" yaml:"table"`
	Exported   int    `json:"exported" yaml:"exported"`
	Imported   int    `json:"imported" yaml:"imported"`
	Errors     int    `json:"errors" yaml:"errors"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Pages      int    `json:"pages" yaml:"pages"`
}

type ReportConfig struct {
	Source     string `json:"source" yaml:"source"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
}

type Summary struct {
	Tables     int   `json:"total_tables" yaml:"total_tables"`
	Exported   int   `json:"total_exported" yaml:"total_exported"`
	Imported   int   `json:"total_imported" yaml:"total_imported"`
	Errors     int   `json:"total_errors" yaml:"total_errors"`
	DurationMS int64 `json:"total_duration_ms" yaml:"total_duration_ms"`
}

// Report is the structured result of a run. Interrupted is set when the run
// stopped before its last table.
type Report struct {
	Timestamp   time.Time    `json:"timestamp" yaml:"timestamp"`
	Config      ReportConfig `json:"config" yaml:"config"`
	Stats       []TableStats `json:"stats" yaml:"stats"`
	Summary     Summary      `json:"summary" yaml:"summary"`
	Interrupted string       `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

func newReport(cfg Config, sqlitePath string) *Report {
	return &Report{
		Timestamp: time.Now().UTC(),
		Config: ReportConfig{
			Source:     cfg.SourceName,
			SQLitePath: sqlitePath,
			BatchSize:  cfg.BatchSize,
		},
		Stats: make([]TableStats, 0),
	}
}

func (r *Report) add(s TableStats) {
	r.Stats = append(r.Stats, s)
	r.finish()
}

func (r *Report) finish() {
	sum := Summary{Tables: len(r.Stats)}
	for _, s := range r.Stats {
		sum.Exported += s.Exported
		sum.Imported += s.Imported
		sum.Errors += s.Errors
		sum.DurationMS += s.DurationMS
	}
	r.Summary = sum
}

// Stat returns the stats of table, if it ran.
func (r *Report) Stat(table string) (TableStats, bool) {
	for _, s := range r.Stats {
		if s.Table == table {
			return s, true
		}
	}
	return TableStats{}, false
}

// FailedTables lists tables that recorded at least one error.
func (r *Report) FailedTables() []TableStats {
	var out []TableStats
	for _, s := range r.Stats {
		if s.Errors > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Write saves the report as migration-report-<unix-ms>.json in dir and
// returns the file path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("migration-report-%d.json", r.Timestamp.UnixMilli()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
