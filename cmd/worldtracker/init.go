package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func initCmd(configPath *string) *cobra.Command {
	var contextID, description string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new document set with default world state and link it to a context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(contextID) == "" {
				return fmt.Errorf("--context is required")
			}
			return runInit(cmd, *configPath, contextID, description)
		},
	}
	cmd.Flags().StringVar(&contextID, "context", "", "conversation context to link")
	cmd.Flags().StringVar(&description, "description", "", "description of the new document set (default from config)")
	return cmd
}

func runInit(cmd *cobra.Command, configPath, contextID, description string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if description == "" {
		description = cfg.Store.Description
	}
	ctx := cmd.Context()
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
	id, err := s.CreateStore(ctx, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", s.Status(), id)
	return nil
}
