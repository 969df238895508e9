package history

import "time"

const SchemaVersion = 1

// Run is one extraction recorded in the history store.
type Run struct {
	ID            string        `json:"id"`
	SchemaVersion int           `json:"schema_version"`
	Timestamp     time.Time     `json:"timestamp"`
	WorkspaceRoot string        `json:"workspace_root"`
	CommitHash    string        `json:"commit_hash,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	EntryCrate    string        `json:"entry_crate"`
	EntryModule   string        `json:"entry_module"`
	OutputPath    string        `json:"output_path,omitempty"`
	ModuleCount   int           `json:"module_count"`
	CrateCount    int           `json:"crate_count"`
	FileCount     int           `json:"file_count"`
	WarningCount  int           `json:"warning_count"`
	Duration      time.Duration `json:"duration"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

type TrendPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	CommitHash      string    `json:"commit_hash,omitempty"`
	ModuleCount     int       `json:"module_count"`
	CrateCount      int       `json:"crate_count"`
	FileCount       int       `json:"file_count"`
	WarningCount    int       `json:"warning_count"`
	DeltaModules    int       `json:"delta_modules"`
	DeltaFiles      int       `json:"delta_files"`
	DeltaWarnings   int       `json:"delta_warnings"`
	ModuleGrowthPct float64   `json:"module_growth_pct"`
	AvgWarnings     float64   `json:"avg_warnings"`
	WindowHours     float64   `json:"window_hours"`
}

type TrendReport struct {
	SchemaVersion int          `json:"schema_version"`
	Since         time.Time    `json:"since"`
	Until         time.Time    `json:"until"`
	Window        string       `json:"window"`
	RunCount      int          `json:"run_count"`
	Points        []TrendPoint `json:"points"`
}
