// # internal/config/config.go
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Workspace      string   `toml:"workspace"`
	OutputDir      string   `toml:"output_dir"`
	ExternalCrates []string `toml:"external_crates"`
	Parallelism    int      `toml:"parallelism"`
	Watch          Watch    `toml:"watch"`
	Outputs        Outputs  `toml:"outputs"`
	History        History  `toml:"history"`
	Metrics        Metrics  `toml:"metrics"`
	Tracing        Tracing  `toml:"tracing"`
}

type Watch struct {
	Debounce      time.Duration `toml:"debounce"`
	Include       []string      `toml:"include"`
	ExcludeDirs   []string      `toml:"exclude_dirs"`
	ExcludeFiles  []string      `toml:"exclude_files"`
	RunsPerMinute int           `toml:"runs_per_minute"`
}

type Outputs struct {
	DOT     string `toml:"dot"`
	Mermaid string `toml:"mermaid"`
	TSV     string `toml:"tsv"`
}

type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type Tracing struct {
	Endpoint string `toml:"endpoint"`
}

// Crates that are always treated as external and never pruned, regardless of
// what the config lists.
var builtinExternalCrates = []string{"std", "core", "alloc"}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file exists. The tool
// is fully operable from flags alone.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "dist"
	}
	if len(cfg.ExternalCrates) == 0 {
		cfg.ExternalCrates = []string{"lazy_static", "tokio", "serde", "reqwest", "reqwest_middleware"}
	}
	cfg.ExternalCrates = mergeBuiltinExternals(cfg.ExternalCrates)

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if len(cfg.Watch.Include) == 0 {
		cfg.Watch.Include = []string{"**/*.rs", "**/Cargo.toml"}
	}
	if len(cfg.Watch.ExcludeDirs) == 0 {
		cfg.Watch.ExcludeDirs = []string{"target", ".git", "dist"}
	}
	if cfg.Watch.RunsPerMinute == 0 {
		cfg.Watch.RunsPerMinute = 30
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "carve-history.db"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9151"
	}
}

// ExternalCrateSet returns the external-crate names as a lookup set.
func (cfg *Config) ExternalCrateSet() map[string]bool {
	set := make(map[string]bool, len(cfg.ExternalCrates))
	for _, name := range cfg.ExternalCrates {
		set[name] = true
	}
	return set
}

func mergeBuiltinExternals(crates []string) []string {
	seen := make(map[string]bool, len(crates)+len(builtinExternalCrates))
	merged := make([]string, 0, len(crates)+len(builtinExternalCrates))
	for _, name := range builtinExternalCrates {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	for _, name := range crates {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	return merged
}
