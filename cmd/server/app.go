package main

import (
	"context"
	"fmt"

	"github.com/RichardoC/creditchat/internal/billing"
	"github.com/RichardoC/creditchat/internal/config"
	"github.com/RichardoC/creditchat/internal/conversation"
	"github.com/RichardoC/creditchat/internal/db"
	"github.com/RichardoC/creditchat/internal/llm"
	"github.com/RichardoC/creditchat/internal/logging"
	"github.com/RichardoC/creditchat/internal/metrics"
	"github.com/RichardoC/creditchat/internal/session"
	"github.com/RichardoC/creditchat/internal/telemetry"
	"github.com/RichardoC/creditchat/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// app holds the components shared by the serve and ask commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	sessions *session.Registry
	database *db.Database

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load(viper.GetViper())

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return nil, err
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	tracer, shutdownTracing, err := telemetry.InitTracing(ctx, cfg.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	model, err := llm.NewModel(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to initialize completion model: %w", err), shutdownTracing(ctx))
	}

	billingClient := billing.NewClient(cfg.BillingEndpoint, cfg.BillingToken, cfg.BillingTimeout, logger,
		billing.WithMetrics(m),
		billing.WithTracer(tracer))

	var database *db.Database
	if cfg.DatabasePath != "" {
		database, err = db.New(cfg.DatabasePath)
		if err != nil {
			logger.Error("Failed to initialize database",
				zap.Error(err),
				zap.String("dbPath", cfg.DatabasePath))
			return nil, multierr.Append(err, shutdownTracing(ctx))
		}
	}

	counter := usage.NewTiktokenCounter(cfg.OpenAIModel, logger)
	factory := func(userID string) *conversation.Conversation {
		completer := llm.New(model, cfg.OpenAIModel, logger,
			llm.WithTimeout(cfg.CompletionTimeout),
			llm.WithMetrics(m),
			llm.WithTracer(tracer))
		identity := conversation.Identity{
			CustomerID:   userID,
			SenderID:     cfg.SenderID,
			InputChannel: cfg.InputChannel,
		}
		opts := []conversation.Option{conversation.WithTokenCounter(counter)}
		if database != nil {
			opts = append(opts, conversation.WithUsageRecorder(database))
		}
		return conversation.New(billingClient, completer, identity, cfg.SystemPrompt,
			logger.With(zap.String("userId", userID)), opts...)
	}

	return &app{
		cfg:             cfg,
		logger:          logger,
		registry:        reg,
		metrics:         m,
		sessions:        session.NewRegistry(factory, logger, m),
		database:        database,
		shutdownTracing: shutdownTracing,
	}, nil
}

// close releases everything newApp opened.
func (a *app) close(ctx context.Context) error {
	a.sessions.Close()

	var err error
	if a.database != nil {
		err = multierr.Append(err, a.database.Close())
	}
	err = multierr.Append(err, a.shutdownTracing(ctx))
	_ = a.logger.Sync()
	return err
}
