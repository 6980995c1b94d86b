package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/telhawk-systems/auditflow/internal/broker"
	"github.com/telhawk-systems/auditflow/internal/ingress"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/ratelimit"
	"github.com/telhawk-systems/auditflow/internal/server"
)

var ingressCmd = &cobra.Command{
	Use:   "ingress",
	Short: "Run the HTTP ingress that publishes audit events to the broker",
	Long: `Accepts audit events on POST /api/v1/audit/publish, stamps missing
eventId and timestamp fields and publishes them to broker.subject. Listens on
ingress.port.`,
	Args: cobra.NoArgs,
	RunE: runIngress,
}

func init() {
	rootCmd.AddCommand(ingressCmd)
}

func runIngress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "auditflow-ingress")
	defer logger.Close()

	limiter, err := ratelimit.New(cfg.Ingress.RateLimit, cfg.Redis)
	if err != nil {
		slog.Warn("Failed to initialize Redis rate limiter, continuing without rate limiting",
			logging.Error(err))
		limiter = &ratelimit.NoOpRateLimiter{}
	} else if cfg.Ingress.RateLimit.Enabled {
		slog.Info("Rate limiting enabled",
			slog.Int("requests", cfg.Ingress.RateLimit.Requests),
			slog.Duration("window", cfg.Ingress.RateLimit.Window),
			slog.Bool("redis", cfg.Redis.Enabled))
	}
	defer limiter.Close()

	var schema *gojsonschema.Schema
	if cfg.Ingress.SchemaFile != "" {
		schema, err = ingress.LoadSchema(cfg.Ingress.SchemaFile)
		if err != nil {
			return err
		}
		slog.Info("Event schema loaded", slog.String("schema_file", cfg.Ingress.SchemaFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := broker.OpenSink(ctx, cfg.Broker, logger.Logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("Failed to close broker connection", logging.Error(err))
		}
	}()

	handler := ingress.NewHandler(publisher, ingress.Options{
		Subject:      cfg.Broker.Subject,
		MaxEventSize: cfg.Ingress.MaxEventSize,
		Schema:       schema,
		Limiter:      limiter,
		Logger:       logger,
	})
	srv := server.New(cfg.Ingress.Port, server.NewIngressRouter(handler), cfg.Server)

	return serve(ctx, srv, cfg.Server.WriteTimeout)
}
