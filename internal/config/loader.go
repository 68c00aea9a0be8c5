package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/worldtracker/internal/normalize"
)

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultTemperature       = 0.2
	DefaultMaxTokens         = 2048
	DefaultStoreDescription  = "worldtracker world state"
	DefaultMaxNPCs           = 8
	DefaultScanDepth         = 3
	DefaultRetryMaxAttempts  = 3
	DefaultPhoneticThreshold = 0.7
	DefaultFuzzyThreshold    = 0.8
)

// ValidProviderNames lists known backend names per kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"oracle": {"openai", "openai-json", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"store":  {"gist", "postgres", "memory"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	if c.Oracle.Temperature == 0 {
		c.Oracle.Temperature = DefaultTemperature
	}
	if c.Oracle.MaxTokens == 0 {
		c.Oracle.MaxTokens = DefaultMaxTokens
	}
	if c.Oracle.BlockTag == "" {
		c.Oracle.BlockTag = normalize.DefaultBlockTag
	}

	if c.Store.Description == "" {
		c.Store.Description = DefaultStoreDescription
	}

	p := &c.Persistence
	if p.Debounce == 0 {
		p.Debounce = 8 * time.Second
	}
	if p.MirrorFreshness == 0 {
		p.MirrorFreshness = 24 * time.Hour
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if p.Retry.Backoff == 0 {
		p.Retry.Backoff = time.Second
	}
	if p.Retry.MaxBackoff == 0 {
		p.Retry.MaxBackoff = 30 * time.Second
	}

	if c.Resolver.PhoneticThreshold == 0 {
		c.Resolver.PhoneticThreshold = DefaultPhoneticThreshold
	}
	if c.Resolver.FuzzyThreshold == 0 {
		c.Resolver.FuzzyThreshold = DefaultFuzzyThreshold
	}

	if c.Tracker.MaxNPCs == 0 {
		c.Tracker.MaxNPCs = DefaultMaxNPCs
	}
	if c.Tracker.ScanDepth == 0 {
		c.Tracker.ScanDepth = DefaultScanDepth
	}
	if c.Tracker.DivergenceThreshold == 0 {
		c.Tracker.DivergenceThreshold = 15
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("oracle", cfg.Oracle.Name)
	if cfg.Oracle.Temperature < 0 || cfg.Oracle.Temperature > 2 {
		errs = append(errs, fmt.Errorf("oracle.temperature %.2f is out of range [0, 2]", cfg.Oracle.Temperature))
	}
	if cfg.Oracle.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("oracle.max_tokens %d must not be negative", cfg.Oracle.MaxTokens))
	}
	for i, fb := range cfg.Oracle.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("oracle.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("oracle", fb.Name)
	}
	if len(cfg.Oracle.Fallbacks) > 0 && cfg.Oracle.Name == "" {
		errs = append(errs, errors.New("oracle.fallbacks requires oracle.name"))
	}
	if cfg.Oracle.Name == "" {
		slog.Warn("oracle.name is empty; only embedded blocks will be extracted")
	}

	validateProviderName("store", cfg.Store.Name)
	switch cfg.Store.Name {
	case "gist":
		if cfg.Store.Token == "" {
			errs = append(errs, errors.New("store.token is required for the gist store"))
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres store"))
		}
	}

	p := cfg.Persistence
	if p.Debounce < 0 {
		errs = append(errs, fmt.Errorf("persistence.debounce %s must not be negative", p.Debounce))
	}
	if p.MirrorFreshness < 0 {
		errs = append(errs, fmt.Errorf("persistence.mirror_freshness %s must not be negative", p.MirrorFreshness))
	}
	if p.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("persistence.retry.max_attempts %d must not be negative", p.Retry.MaxAttempts))
	}
	if p.Retry.Backoff < 0 || p.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("persistence.retry backoff values must not be negative"))
	}
	if p.Retry.MaxBackoff > 0 && p.Retry.Backoff > p.Retry.MaxBackoff {
		errs = append(errs, fmt.Errorf("persistence.retry.backoff %s exceeds max_backoff %s", p.Retry.Backoff, p.Retry.MaxBackoff))
	}

	for name, v := range map[string]float64{
		"resolver.phonetic_threshold": cfg.Resolver.PhoneticThreshold,
		"resolver.fuzzy_threshold":    cfg.Resolver.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}

	if cfg.Tracker.MaxNPCs < 0 {
		errs = append(errs, fmt.Errorf("tracker.max_npcs %d must not be negative", cfg.Tracker.MaxNPCs))
	}
	if cfg.Tracker.ScanDepth < 0 {
		errs = append(errs, fmt.Errorf("tracker.scan_depth %d must not be negative", cfg.Tracker.ScanDepth))
	}
	if cfg.Tracker.DivergenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("tracker.divergence_threshold %d must not be negative", cfg.Tracker.DivergenceThreshold))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
