// Package config provides the configuration schema, loader and provider
// registry of worldtracker.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Store       StoreConfig       `yaml:"store"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Resolver    ResolverConfig    `yaml:"resolver"`
	Tracker     TrackerConfig     `yaml:"tracker"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the HTTP listener serving metrics, health
	// and the live feed (e.g. ":8080"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry is the configuration block of one oracle backend. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered backend (e.g. "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the backend.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OracleConfig configures the extraction oracle.
type OracleConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Temperature is the sampling temperature of extraction requests.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the length of an extraction report.
	MaxTokens int `yaml:"max_tokens"`

	// BlockTag is the fence tag of blocks the narrator embeds in its output.
	BlockTag string `yaml:"block_tag"`
}

// StoreConfig selects the remote document store.
type StoreConfig struct {
	// Name selects the registered store: "gist", "postgres" or "memory".
	// Empty disables remote storage.
	Name string `yaml:"name"`

	// Token authenticates against the Gist API.
	Token string `yaml:"token"`

	// BaseURL overrides the Gist API endpoint.
	BaseURL string `yaml:"base_url"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Description is given to newly created document sets.
	Description string `yaml:"description"`
}

// PersistenceConfig controls debounced pushes and the local mirror.
type PersistenceConfig struct {
	// Debounce is the delay between the last change and the push.
	Debounce time.Duration `yaml:"debounce"`

	// MirrorPath is the SQLite file of the local mirror. Empty keeps the
	// mirror in memory.
	MirrorPath string `yaml:"mirror_path"`

	// MirrorFreshness is how long a mirrored set is preferred over a fetch.
	MirrorFreshness time.Duration `yaml:"mirror_freshness"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds push retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// ResolverConfig tunes character reference resolution.
type ResolverConfig struct {
	// Phonetic enables sound-alike matching after exact and alias matching.
	Phonetic bool `yaml:"phonetic"`

	// PhoneticThreshold and FuzzyThreshold are similarity cut-offs in [0, 1].
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

// TrackerConfig holds session settings.
type TrackerConfig struct {
	// MaxNPCs is the number of character cards injected at most.
	MaxNPCs int `yaml:"max_npcs"`

	// ScanDepth is the number of recent messages scanned for names.
	ScanDepth int `yaml:"scan_depth"`

	// DivergenceThreshold seeds the divergence record of new stores.
	DivergenceThreshold int `yaml:"divergence_threshold"`

	// Setting and StartDate seed the index of new stores.
	Setting   string `yaml:"setting"`
	StartDate string `yaml:"start_date"`
}
