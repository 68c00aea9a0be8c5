package app_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/worldtracker/internal/app"
	"github.com/MrWong99/worldtracker/internal/config"
	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/internal/persist"
	"github.com/MrWong99/worldtracker/pkg/docstore/mock"
	llmmock "github.com/MrWong99/worldtracker/pkg/provider/llm/mock"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// testConfig returns a defaulted config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Oracle: config.OracleConfig{ProviderEntry: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}},
		Store:  config.StoreConfig{Name: "memory"},
	}
	cfg.ApplyDefaults()
	cfg.Persistence.Debounce = time.Hour
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newApp(t *testing.T, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMirror(persist.NewMemoryMirror()),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	application, err := app.New(context.Background(), testConfig(), providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { application.Shutdown(context.Background()) })
	return application
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	store := mock.New()
	oracle := &llmmock.Provider{Responses: []string{`{"in_world_date": "2011-04-12"}`}}
	application := newApp(t, &app.Providers{Oracle: oracle, Store: store})
	ctx := context.Background()

	s := application.Session()
	if err := s.SwitchContext(ctx, "chat-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateStore(ctx, "test"); err != nil {
		t.Fatal(err)
	}
	n, err := s.HandleNarrative(ctx, extract.Event{Text: "Two days later."})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || oracle.CallCount() != 1 {
		t.Errorf("queued %d proposals with %d oracle calls, want 1 and 1", n, oracle.CallCount())
	}
	req, _ := oracle.LastRequest()
	if req.MaxTokens != config.DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, config.DefaultMaxTokens)
	}

	s.AcceptAll()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := string(store.Files("set-1")[world.WorldStateFile]); !strings.Contains(got, "2011-04-12") {
		t.Errorf("Shutdown did not push the accepted change: %s", got)
	}
}

func TestNew_NoOracle(t *testing.T) {
	t.Parallel()

	application := newApp(t, nil)
	ctx := context.Background()
	s := application.Session()
	if err := s.SwitchContext(ctx, "chat-1"); err != nil {
		t.Fatal(err)
	}
	if got := s.Status(); got != "no store linked" {
		t.Errorf("Status = %q", got)
	}

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz without an oracle = %d, want 503", resp.StatusCode)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	application := newApp(t, &app.Providers{Oracle: &llmmock.Provider{}, Store: mock.New()})
	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	application := newApp(t, &app.Providers{Oracle: &llmmock.Provider{}}, app.WithLogLevel(&lv))

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Tracker.MaxNPCs = 1
	application.Reload(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	application := newApp(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Calling Shutdown again must be safe.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	application := newApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx, app.RunOptions{}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
