package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/mcp"
	"github.com/dshills/repoindex/internal/storage"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := openApp(cfg, flags, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			// Log startup info to stderr (stdout reserved for MCP protocol)
			a.logger.Info("repoindex starting",
				slog.String("version", version),
				slog.String("build_mode", storage.BuildMode),
				slog.String("driver", storage.DriverName),
				slog.String("db", cfg.Database.Path),
				slog.String("jobs", cfg.Jobs.Backend))

			server, err := mcp.NewServer(mcp.Deps{
				Store:         a.store,
				Indexer:       a.indexer,
				Jobs:          a.jobs,
				Parser:        a.parser,
				SourceOptions: cfg.SourceOptions(),
				Logger:        a.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down, cancelling running jobs")
			case err := <-errChan:
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("server error: %w", err)
				}
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}
