// Package main is the entry point for the ClipHost monetization pipeline
// service. It wires the configuration, the external clients (payment
// processor, analytics, search index), the ledger repositories, and the
// billing status cache into the scheduled jobs, then serves the job trigger
// endpoints, the payment webhook, and the monetization update endpoint over
// HTTP.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cliphost/internal/api/handlers"
	"cliphost/internal/cache"
	"cliphost/internal/config"
	"cliphost/internal/core"
	"cliphost/internal/db"
	"cliphost/internal/external"
	"cliphost/internal/jobs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("monetization pipeline starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password.Unmask(),
		DB:       cfg.Cache.DB,
	})
	defer rdb.Close()

	// External clients. Each gets its own circuit breaker through its own
	// BaseClient.
	httpClient := &http.Client{Timeout: 30 * time.Second}
	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})
	analyticsClient := external.NewAnalyticsClient(httpClient, external.AnalyticsClientConfig{
		BaseURL: cfg.Analytics.URL,
		Token:   cfg.Analytics.Token.Unmask(),
	})
	searchClient := external.NewSearchClient(httpClient, external.SearchClientConfig{
		BaseURL: cfg.Search.URL,
		APIKey:  cfg.Search.APIKey.Unmask(),
		Index:   cfg.Search.VideoIndex,
	})

	// Stores.
	statusCache := cache.NewBillingStatus(rdb)
	costRepo := db.NewCostLedgerRepo(pool)
	userLedgerRepo := db.NewUserLedgerRepo(pool)
	balanceRepo := db.NewBalanceRepo(pool)

	metrics, err := newMetricPublisher(ctx, cfg.Metrics, logger)
	if err != nil {
		return fmt.Errorf("creating metric publisher: %w", err)
	}

	// Jobs.
	billingSync := jobs.NewBillingSync(stripeClient, statusCache, metrics, cfg.Billing.CustomerPageSize, logger)
	costIngest := jobs.NewCostIngest(analyticsClient, costRepo, metrics, logger)
	recharge := jobs.NewRecharge(balanceRepo, stripeClient, metrics, jobs.RechargeConfig{
		ThresholdCents: cfg.Billing.LowBalanceThresholdCents,
		TopUpCents:     cfg.Billing.TopUpAmountCents,
	}, logger)
	reconcile := jobs.NewRankingReconcile(searchClient, statusCache, analyticsClient, metrics, cfg.Billing.MinCPV, logger)
	reset := jobs.NewRankingReset(searchClient, statusCache, metrics, cfg.Billing.MinCPV, logger)

	// Handlers.
	jobSecret := cfg.Jobs.SharedSecret.Unmask()
	jobsHandler := handlers.NewJobsHandler(billingSync, costIngest, recharge, reconcile, reset, jobSecret, logger)
	monetizationHandler := handlers.NewMonetizationHandler(searchClient, statusCache, jobSecret, cfg.Billing.MinCPV, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(&external.StripeVerifier{}, userLedgerRepo, cfg.Billing.StripeWebhookSecret.Unmask(), logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.MountRoutes(
		jobsHandler.RegisterRoutes,
		monetizationHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	return runHTTPServer(srv, cfg, logger)
}

// newDBPool builds the pgx pool with the configured tuning applied.
func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pc.MaxConns = int32(cfg.MaxConns)
	pc.MinConns = int32(cfg.MinConns)
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, pc)
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Job runs are synchronous and page through remote stores; give
		// them room before the server cuts the response off.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// --- Metric Publisher Implementation ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used by the
// metric publisher.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// liveMetricPublisher publishes job run summaries to CloudWatch under the
// configured namespace, one datum per counter, dimensioned by job name.
type liveMetricPublisher struct {
	client    cloudwatchAPI
	namespace string
}

// PublishJobSummary implements jobs.MetricPublisher.
func (p *liveMetricPublisher) PublishJobSummary(ctx context.Context, job string, values map[string]float64) error {
	dims := []cwTypes.Dimension{
		{
			Name:  aws.String("Job"),
			Value: aws.String(job),
		},
	}

	data := make([]cwTypes.MetricDatum, 0, len(values))
	for name, value := range values {
		data = append(data, cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       cwTypes.StandardUnitCount,
			Dimensions: dims,
		})
	}

	if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}); err != nil {
		return fmt.Errorf("failed to publish %s job metrics: %w", job, err)
	}
	return nil
}

// newMetricPublisher returns the CloudWatch publisher when metrics are
// enabled, a no-op otherwise.
func newMetricPublisher(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) (jobs.MetricPublisher, error) {
	if !cfg.Enabled {
		return jobs.NopMetricPublisher{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	logger.Info("publishing job metrics to CloudWatch", "namespace", cfg.Namespace)
	return &liveMetricPublisher{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: cfg.Namespace,
	}, nil
}
