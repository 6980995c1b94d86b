package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/auditflow/internal/broker"
	"github.com/telhawk-systems/auditflow/internal/consumer"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline worker",
	Long: `Consumes audit events from the configured broker and runs each one
through the enabled pipelines. Health, readiness and Prometheus metrics are
served on server.port.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "auditflow-worker")
	defer logger.Close()

	res, err := discoverResolvers(cfg, logger)
	if err != nil {
		return err
	}
	orch, dispatchers, err := buildOrchestrator(cfg, logger, res)
	if err != nil {
		return err
	}
	defer dispatchers.Close()

	enabled := cfg.EnabledPipelines()
	slog.Info("Pipelines configured",
		slog.Int("total", len(cfg.Pipelines)),
		slog.Int("enabled", len(enabled)),
		slog.Int("parallelism", cfg.Processing.Parallelism))
	if len(enabled) == 0 {
		slog.Warn("No audit pipelines enabled, events will be acknowledged without delivery")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := broker.OpenSource(ctx, cfg.Broker, logger.Logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			slog.Warn("Failed to close broker connection", logging.Error(err))
		}
	}()

	worker := consumer.NewWorker(source, orch, cfg.Broker.Type, logger)
	srv := server.New(cfg.Server.Port, server.NewWorkerRouter(orch, source), cfg.Server)

	return serve(ctx, srv, cfg.Server.WriteTimeout, worker.Run)
}

// serve runs the HTTP server and the optional background loops until ctx is
// cancelled or one of them fails, then shuts the server down.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, loops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			return loop(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		slog.Error("Stopped with error", logging.Error(err))
		return err
	}
	slog.Info("Server stopped", slog.Int("pid", os.Getpid()))
	return nil
}
