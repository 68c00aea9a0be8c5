package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/proposal"
	"github.com/MrWong99/worldtracker/internal/tracker"
)

func extractCmd(configPath *string) *cobra.Command {
	var (
		contextID string
		input     string
		previous  string
		cont      bool
		acceptAll bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction against a context and print the proposed changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(contextID) == "" {
				return fmt.Errorf("--context is required")
			}
			text, err := readInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			ev := extract.Event{Text: text, Continue: cont, Previous: previous}
			return runExtract(cmd.Context(), cmd.OutOrStdout(), *configPath, contextID, ev, acceptAll)
		},
	}
	cmd.Flags().StringVar(&contextID, "context", "", "conversation context to extract for")
	cmd.Flags().StringVar(&input, "input", "-", "file holding the narrative text, - for stdin")
	cmd.Flags().BoolVar(&cont, "continue", false, "the text continues --previous")
	cmd.Flags().StringVar(&previous, "previous", "", "narrative text being continued")
	cmd.Flags().BoolVar(&acceptAll, "accept-all", false, "apply every proposal and push the result")
	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}

func runExtract(ctx context.Context, out io.Writer, configPath, contextID string, ev extract.Event, acceptAll bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	application, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		application.Shutdown(shutdownCtx)
	}()

	s := application.Session()
	if err := s.SwitchContext(ctx, contextID); err != nil {
		return err
	}
	n, err := s.HandleNarrative(ctx, ev)
	switch {
	case errors.Is(err, extract.ErrNotLoaded):
		return fmt.Errorf("context %q has no world state; run init or link a store first", contextID)
	case tracker.IsDropped(err):
		fmt.Fprintf(out, "nothing to extract: %v\n", err)
		return nil
	case err != nil:
		return err
	}
	if n == 0 {
		fmt.Fprintln(out, "no changes found")
		return nil
	}

	printProposals(out, s.Pending())
	if !acceptAll {
		fmt.Fprintln(out, "(dry run, rerun with --accept-all to apply)")
		return nil
	}
	fmt.Fprintf(out, "applied %d changes\n", s.AcceptAll())
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	fmt.Fprintln(out, s.Status())
	return nil
}

func printProposals(out io.Writer, pending []proposal.Proposal) {
	for i, p := range pending {
		fmt.Fprintf(out, "%2d. [%s] %s\n", i+1, p.Category, p.Description)
		if p.Expandable {
			for _, line := range strings.Split(p.Preview, "\n") {
				fmt.Fprintf(out, "      %s\n", line)
			}
		}
	}
}
