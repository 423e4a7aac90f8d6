package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/vulngraph/database"
	"github.com/ortelius/vulngraph/enrich"
	gqlschema "github.com/ortelius/vulngraph/graphql"
	"github.com/ortelius/vulngraph/ingest"
	"github.com/ortelius/vulngraph/oracle"
	"github.com/ortelius/vulngraph/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingestion, enrichment and GraphQL API",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides MS_PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}

	engine, err := newEnrichEngine(store)
	if err != nil {
		return err
	}

	// Initialize GraphQL schema
	gqlschema.InitDB(store)
	schema, err := gqlschema.CreateSchema()
	if err != nil {
		return fmt.Errorf("creating GraphQL schema: %w", err)
	}

	srv := server.New(ingest.New(store, logger), engine, schema, logger)

	port := servePort
	if port == "" {
		port = cfg.Server.Port
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}

// newEnrichEngine builds the enrichment engine from the loaded configuration.
func newEnrichEngine(store database.Querier) (*enrich.Engine, error) {
	client, err := oracle.NewClient(cfg.Oracle, logger)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return enrich.New(store, client, enrich.Config{
		BatchLimit:    cfg.Enrich.BatchLimit,
		Workers:       cfg.Enrich.Workers,
		RatePerSecond: cfg.Enrich.RatePerSecond,
		Model:         cfg.Oracle.Model,
	}, logger), nil
}
