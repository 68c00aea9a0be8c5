package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/worldtracker/internal/app"
	"github.com/MrWong99/worldtracker/internal/config"
	"github.com/MrWong99/worldtracker/internal/resilience"
	"github.com/MrWong99/worldtracker/pkg/docstore"
	"github.com/MrWong99/worldtracker/pkg/docstore/gist"
	"github.com/MrWong99/worldtracker/pkg/docstore/memory"
	"github.com/MrWong99/worldtracker/pkg/docstore/postgres"
	"github.com/MrWong99/worldtracker/pkg/provider/llm"
	"github.com/MrWong99/worldtracker/pkg/provider/llm/anyllm"
	"github.com/MrWong99/worldtracker/pkg/provider/llm/openai"
)

// connectTimeout bounds store connection setup at startup.
const connectTimeout = 15 * time.Second

// registerBuiltinProviders wires all built-in oracle and store factories
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Oracle ────────────────────────────────────────────────────────────────
	// These backends share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterOracle(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterOracle("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// openai-json talks to the chat completions API directly and enforces a
	// JSON object response.
	reg.RegisterOracle("openai-json", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Store ─────────────────────────────────────────────────────────────────

	reg.RegisterStore("gist", func(cfg config.StoreConfig) (docstore.Store, error) {
		if cfg.Token == "" {
			return nil, errors.New("gist store requires store.token")
		}
		var opts []gist.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gist.WithBaseURL(cfg.BaseURL))
		}
		c, err := gist.New(cfg.Token, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	reg.RegisterStore("postgres", func(cfg config.StoreConfig) (docstore.Store, error) {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		s, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterStore("memory", func(config.StoreConfig) (docstore.Store, error) {
		return memory.New(), nil
	})
}

// buildProviders instantiates the oracle (with its fallbacks) and the store
// named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Oracle.Name; name != "" {
		primary, err := reg.CreateOracle(cfg.Oracle.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("create oracle %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "oracle", "name", name, "model", cfg.Oracle.Model)
		ps.Oracle = primary

		if len(cfg.Oracle.Fallbacks) > 0 {
			fb := resilience.NewOracleFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Oracle.Fallbacks {
				p, err := reg.CreateOracle(entry)
				if err != nil {
					return nil, fmt.Errorf("create oracle fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, p)
			}
			slog.Info("oracle fallbacks configured", "order", fb.Names())
			ps.Oracle = fb
		}
	}

	if name := cfg.Store.Name; name != "" {
		s, err := reg.CreateStore(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("create store %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "store", "name", name)
		ps.Store = s
	}

	return ps, nil
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
