package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"codice/config"
	"codice/core"
	"codice/gateway/middleware"
	"codice/gateway/routes"
	"codice/observability/logging"
	"codice/observability/metrics"
	telemetry "codice/observability/otel"
	"codice/rpc"
	"codice/services/indexer"
	"codice/services/webhook"
	"codice/storage"
)

const serviceName = "codiced"

func main() {
	cfgPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "codiced: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	if override := strings.TrimSpace(os.Getenv("CODICE_ENV")); override != "" {
		env = override
	}
	logger, logCloser := logging.SetupWithOptions(serviceName, env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		NetworkName: cfg.NetworkName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.OTLPHeaders),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	logStartup(logger, cfg, env)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	ledgerMetrics := metrics.Ledger()
	node, err := core.NewNode(db,
		core.WithChainID(cfg.ChainID),
		core.WithPauses(cfg.Pauses),
		core.WithQuota(cfg.Quota.Runtime()),
		core.WithMaxBatchSize(cfg.Ledger.MaxBatchSize),
		core.WithReadRequestTTL(time.Duration(cfg.Ledger.ReadRequestMaxTTL)*time.Second),
		core.WithLogger(logger),
		core.WithMetrics(ledgerMetrics),
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	allocs, err := cfg.Genesis.Allocations()
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	serverCfg := rpc.ServerConfig{
		AuthToken: cfg.RPCAuthToken,
		Logger:    logger,
		Metrics:   ledgerMetrics,
	}
	if cfg.Indexer.Enabled {
		ix, err := indexer.Open(cfg.Indexer.Path, logger)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer ix.Close()
		node.Subscribe(ix)
		serverCfg.Indexer = ix
		logger.Info("provenance indexer enabled", slog.String("path", cfg.Indexer.Path))
	}
	if serverCfg.AuthToken == "" {
		logger.Warn("rpc auth token not configured; transaction submission is open")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Webhooks) > 0 {
		subs := make([]webhook.Subscription, 0, len(cfg.Webhooks))
		for _, hook := range cfg.Webhooks {
			subs = append(subs, webhook.Subscription{
				Name:      hook.Name,
				URL:       hook.URL,
				Secret:    hook.Secret,
				Events:    hook.Events,
				RateLimit: hook.RateLimit,
			})
		}
		dispatcher, err := webhook.New(subs, webhook.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("configure webhooks: %w", err)
		}
		node.Subscribe(dispatcher)
		go dispatcher.Run(ctx)
		logger.Info("webhook dispatcher enabled", slog.Int("subscriptions", len(subs)))
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: serviceName,
		LogRequests: strings.EqualFold(cfg.Log.Level, "debug"),
		Enabled:     cfg.Telemetry.Metrics,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"rpc": {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
	}, logger)
	router, err := routes.New(routes.Config{
		RPC:           rpc.NewServer(node, serverCfg),
		RateLimiter:   limiter,
		Observability: obs,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	handler := http.Handler(router)
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(router, serviceName)
	}

	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("json-rpc listening",
			slog.String("addr", listener.Addr().String()),
			slog.Uint64("chainId", cfg.ChainID),
			slog.String("network", cfg.NetworkName))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("node stopped")
	return nil
}

// logStartup records the effective configuration with secrets masked.
func logStartup(logger *slog.Logger, cfg *config.Config, env string) {
	logger.Info("starting node",
		slog.String("env", env),
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", cfg.ChainID),
		slog.String("rpcAddress", cfg.RPCAddress),
		slog.String("dataDir", cfg.DataDir),
		logging.MaskField("rpcAuthToken", cfg.RPCAuthToken),
		slog.Bool("indexer", cfg.Indexer.Enabled),
		slog.Bool("pausedCertificate", cfg.Pauses.Certificate),
		slog.Bool("pausedListing", cfg.Pauses.Listing))
	for _, hook := range cfg.Webhooks {
		logger.Info("webhook subscription",
			slog.String("subscription", hook.Name),
			logging.MaskURL("url", hook.URL),
			logging.MaskField("secret", hook.Secret),
			slog.Any("events", hook.Events),
			slog.Int("rateLimit", hook.RateLimit))
	}
}
