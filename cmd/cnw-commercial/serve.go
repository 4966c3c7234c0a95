package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/ratelimit"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial/securitylog"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/internal/config"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/internal/gateway"
	"github.com/CloudNativeWorks/cnw-commercial-sdk/internal/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const pruneInterval = time.Hour

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the commercial API gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override listen address")
	return cmd
}

// closer releases one resource acquired during startup.
type closer struct {
	name string
	fn   func(context.Context) error
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	edition := cnwcommercial.ClientType(cfg.Edition)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cnwcommercial.NewMetrics(reg)

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Reverse order: the security log drains before its store closes.
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(shutdownCtx); err != nil {
				log.Warn("shutdown step failed", zap.String("step", closers[i].name), zap.Error(err))
			}
		}
	}()

	limiter, closeLimiter, err := openLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"rate limiter", closeLimiter})

	store, closeStore, err := openStore(ctx, cfg.SecurityLog)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"security log store", closeStore})

	secOpts := []securitylog.Option{
		securitylog.WithQueueSize(cfg.SecurityLog.QueueSize),
		securitylog.WithDroppedCounter(metrics.DroppedEvents()),
	}
	if store != nil {
		secOpts = append(secOpts, securitylog.WithStore(store))
	}
	secLog := securitylog.New(log.Named("security"), secOpts...)
	closers = append(closers, closer{"security log", secLog.Close})

	verifierOpts := []cnwcommercial.VerifierOption{
		cnwcommercial.WithLimiter(limiter),
		cnwcommercial.WithSecurityLog(secLog),
		cnwcommercial.WithVerifierEdition(edition),
		cnwcommercial.WithMaxClockSkew(cfg.Verifier.MaxClockSkew),
		cnwcommercial.WithVerifierLogger(log.Named("verifier")),
		cnwcommercial.WithVerifierMetrics(metrics),
	}
	if cfg.Verifier.SharedSecret != "" {
		verifierOpts = append(verifierOpts, cnwcommercial.WithSharedSecret(cfg.Verifier.SharedSecret))
	}
	verifier := cnwcommercial.NewVerifier(verifierOpts...)

	registry := cnwcommercial.NewRegistry(
		cnwcommercial.WithEdition(edition),
		cnwcommercial.WithRegistryLogger(log.Named("registry")),
		cnwcommercial.WithRegistryMetrics(metrics),
	)
	services := cnwcommercial.NewServices(registry, clientOptions(cfg.Client, log, metrics)...)

	gwOpts := []gateway.Option{
		gateway.WithLogger(log.Named("gateway")),
		gateway.WithGatherer(reg),
		gateway.WithBuildInfo(edition, cnwcommercial.Version),
	}
	if cfg.Offline.PublicKey != "" {
		gwOpts = append(gwOpts, gateway.WithOfflineValidator(cnwcommercial.NewOfflineValidator(
			cnwcommercial.WithTrustedPublicKey(cfg.Offline.PublicKey),
			cnwcommercial.WithRequiredEdition(edition),
		)))
	}
	gw := gateway.New(verifier.Middleware, gateway.FromCommercial(services), gwOpts...)

	if store != nil && cfg.SecurityLog.Retention > 0 {
		go pruneLoop(ctx, store, cfg.SecurityLog.Retention, log)
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	closers = append(closers, closer{"http server", srv.Shutdown})

	errCh := make(chan error, 1)
	go func() {
		log.Info("commercial gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("edition", string(edition)),
			zap.String("version", cnwcommercial.Version),
			zap.String("rate_limit_backend", cfg.RateLimit.Backend),
			zap.String("security_log_backend", cfg.SecurityLog.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down commercial gateway")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func openLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(context.Context) error, error) {
	limits := ratelimit.Config{
		MaxRequests:   cfg.MaxRequests,
		Window:        cfg.Window,
		SweepInterval: cfg.SweepInterval,
	}
	if cfg.Backend != config.BackendRedis {
		l := ratelimit.NewMemoryLimiter(limits)
		return l, func(context.Context) error { return l.Close() }, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	var redisOpts []ratelimit.RedisOption
	if cfg.KeyPrefix != "" {
		redisOpts = append(redisOpts, ratelimit.WithKeyPrefix(cfg.KeyPrefix))
	}
	return ratelimit.NewRedisLimiter(client, limits, redisOpts...),
		func(context.Context) error { return client.Close() }, nil
}

// openStore returns a nil store for the none backend. The returned close
// function releases the underlying connection.
func openStore(ctx context.Context, cfg config.SecurityLogConfig) (securitylog.Store, func(context.Context) error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		s := securitylog.NewMemoryStore()
		return s, s.Close, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		var pgOpts []securitylog.PostgresOption
		if cfg.PostgresTable != "" {
			pgOpts = append(pgOpts, securitylog.WithTableName(cfg.PostgresTable))
		}
		s, err := securitylog.NewPostgresStore(ctx, pool, pgOpts...)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("open postgres security log: %w", err)
		}
		return s, func(context.Context) error { pool.Close(); return nil }, nil

	case config.BackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		s, err := securitylog.NewMongoStore(ctx, client.Database(cfg.MongoDatabase))
		if err != nil {
			client.Disconnect(ctx) //nolint:errcheck
			return nil, nil, fmt.Errorf("open mongo security log: %w", err)
		}
		return s, client.Disconnect, nil
	}
	return nil, func(context.Context) error { return nil }, nil
}

func clientOptions(cfg config.ClientConfig, log *zap.Logger, m *cnwcommercial.Metrics) []cnwcommercial.ClientOption {
	opts := []cnwcommercial.ClientOption{
		cnwcommercial.WithTimeout(cfg.Timeout),
		cnwcommercial.WithClientLogger(log.Named("client")),
		cnwcommercial.WithClientMetrics(m),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, cnwcommercial.WithRateLimit(rate.Limit(cfg.RatePerSecond), burst))
	}
	return opts
}

// pruneLoop drops security events older than retention once at start and
// then every pruneInterval until ctx is done.
func pruneLoop(ctx context.Context, store securitylog.Store, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := store.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("prune security events", zap.Error(err))
		case n > 0:
			log.Info("pruned security events", zap.Int("removed", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
