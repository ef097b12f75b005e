package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// newRootCommand builds the CLI. Running it without a subcommand serves the
// HTTP API.
func newRootCommand() *cobra.Command {
	cfg := defaultConfig()
	var configPath string
	var logger *slog.Logger

	root := &cobra.Command{
		Use:           "storebayes",
		Short:         "Naive bayes text classifier backed by a counting store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolveConfig(cmd, &cfg, configPath); err != nil {
				return err
			}
			logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	bindFlags(root, &cfg, &configPath)

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "export <file|->",
		Short: "Write a snapshot of the namespace's counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			classifier, s, err := openClassifier(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if args[0] == "-" {
				return classifier.Save(ctx, cmd.OutOrStdout())
			}
			if err := classifier.SaveToFile(ctx, args[0]); err != nil {
				return err
			}
			logger.Info("exported snapshot", "namespace", classifier.Namespace(), "path", args[0])
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the namespace's counters with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			classifier, s, err := openClassifier(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if args[0] == "-" {
				return classifier.Load(ctx, cmd.InOrStdin())
			}
			return classifier.LoadFromFile(ctx, args[0])
		},
	})

	return root
}

// serve runs the HTTP API until SIGINT or SIGTERM, or until the listener
// fails.
func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	classifier, s, err := openClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	api := NewClassifierAPI(classifier, s, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	server := newServer(":"+cfg.Port, withRequestID(withAuthorizationToken(mux, cfg.AuthToken)))
	api.ready.Store(true)

	sigCh := makeSignalChannel()
	notifySignals(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server is listening", "port", cfg.Port, "backend", cfg.Backend, "namespace", classifier.Namespace())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}
		api.ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
