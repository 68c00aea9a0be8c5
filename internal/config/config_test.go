package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/worldtracker/internal/config"
	"github.com/MrWong99/worldtracker/pkg/docstore"
	"github.com/MrWong99/worldtracker/pkg/docstore/mock"
	"github.com/MrWong99/worldtracker/pkg/provider/llm"
	llmmock "github.com/MrWong99/worldtracker/pkg/provider/llm/mock"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

oracle:
  name: openai
  api_key: sk-test
  model: gpt-4o-mini
  temperature: 0.1
  fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3.1

store:
  name: gist
  token: ghp-test

persistence:
  debounce: 2s
  mirror_path: /tmp/mirror.db
  retry:
    max_attempts: 5
    backoff: 500ms

resolver:
  phonetic: true

tracker:
  max_npcs: 4
  setting: Worm - Brockton Bay
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	want := config.Config{
		Server: config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogDebug},
		Oracle: config.OracleConfig{
			ProviderEntry: config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			Fallbacks:     []config.ProviderEntry{{Name: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.1"}},
			Temperature:   0.1,
			MaxTokens:     config.DefaultMaxTokens,
			BlockTag:      "forge",
		},
		Store: config.StoreConfig{Name: "gist", Token: "ghp-test", Description: config.DefaultStoreDescription},
		Persistence: config.PersistenceConfig{
			Debounce:        2 * time.Second,
			MirrorPath:      "/tmp/mirror.db",
			MirrorFreshness: 24 * time.Hour,
			Retry:           config.RetryConfig{MaxAttempts: 5, Backoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second},
		},
		Resolver: config.ResolverConfig{
			Phonetic:          true,
			PhoneticThreshold: config.DefaultPhoneticThreshold,
			FuzzyThreshold:    config.DefaultFuzzyThreshold,
		},
		Tracker: config.TrackerConfig{
			MaxNPCs:             4,
			ScanDepth:           config.DefaultScanDepth,
			DivergenceThreshold: 15,
			Setting:             "Worm - Brockton Bay",
		},
	}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Persistence.Debounce != 8*time.Second || cfg.Tracker.MaxNPCs != 8 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		wants []string
	}{
		{
			name:  "bad log level",
			yaml:  "server:\n  log_level: bananas\n",
			wants: []string{"server.log_level"},
		},
		{
			name:  "gist needs token",
			yaml:  "store:\n  name: gist\n",
			wants: []string{"store.token"},
		},
		{
			name:  "postgres needs dsn",
			yaml:  "store:\n  name: postgres\n",
			wants: []string{"store.dsn"},
		},
		{
			name:  "fallback without primary",
			yaml:  "oracle:\n  fallbacks:\n    - name: ollama\n    - model: x\n",
			wants: []string{"oracle.fallbacks requires oracle.name", "oracle.fallbacks[1].name"},
		},
		{
			name:  "ranges",
			yaml:  "oracle:\n  temperature: 3\nresolver:\n  fuzzy_threshold: 1.5\ntracker:\n  scan_depth: -1\n",
			wants: []string{"oracle.temperature", "resolver.fuzzy_threshold", "tracker.scan_depth"},
		},
		{
			name:  "backoff above max",
			yaml:  "persistence:\n  retry:\n    backoff: 1m\n    max_backoff: 10s\n",
			wants: []string{"exceeds max_backoff"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			for _, w := range tt.wants {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateOracle(config.ProviderEntry{Name: "openai"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateOracle unregistered = %v", err)
	}
	if _, err := reg.CreateStore(config.StoreConfig{Name: "memory"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateStore unregistered = %v", err)
	}

	var gotEntry config.ProviderEntry
	reg.RegisterOracle("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	store := mock.New()
	reg.RegisterStore("memory", func(config.StoreConfig) (docstore.Store, error) { return store, nil })

	if _, err := reg.CreateOracle(config.ProviderEntry{Name: "fake", Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got %+v", gotEntry)
	}
	got, err := reg.CreateStore(config.StoreConfig{Name: "memory"})
	if err != nil || got != store {
		t.Errorf("CreateStore = (%v, %v)", got, err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	old, same := base(), base()
	if d := config.Diff(old, same); d.Changed() {
		t.Errorf("identical configs differ: %+v", d)
	}

	changed := base()
	changed.Server.LogLevel = config.LogWarn
	changed.Tracker.ScanDepth = 6
	changed.Oracle.Fallbacks[0].Model = "qwen"
	changed.Store.Token = "other"

	d := config.Diff(old, changed)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.TrackerChanged || d.NewTracker.ScanDepth != 6 {
		t.Errorf("tracker diff = %+v", d)
	}
	if diff := cmp.Diff([]string{"oracle", "store"}, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired (-want +got):\n%s", diff)
	}
}
