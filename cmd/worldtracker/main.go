// Command worldtracker tracks a versioned world model alongside an ongoing
// narrative: it extracts changes from narrative text, queues them for review
// and keeps a remote document store in step.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/worldtracker/internal/app"
	"github.com/MrWong99/worldtracker/internal/config"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "worldtracker",
		Short:         "Review-gated world state tracking for long-running narratives",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(extractCmd(&configPath))
	root.AddCommand(initCmd(&configPath))
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. Logs go to stderr because stdout
// carries MCP traffic. The returned LevelVar allows changing the level at
// runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.LevelOf(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
