// Command bridge corre el bridge cross-chain y su gateway HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/datasov-bridge/internal/archive"
	"github.com/dropDatabas3/datasov-bridge/internal/audit"
	"github.com/dropDatabas3/datasov-bridge/internal/config"
	"github.com/dropDatabas3/datasov-bridge/internal/http/router"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
	"github.com/dropDatabas3/datasov-bridge/internal/util"
)

var version = "dev"

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml si existe)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagPrint      = flag.Bool("print-config", false, "imprime config efectiva y termina")
	)
	flag.Parse()

	if *flagEnvFile != "" && fileExists(*flagEnvFile) {
		if err := godotenv.Load(*flagEnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		}
	}

	cfgPath := *flagConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" && fileExists("configs/config.yaml") {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *flagPrint {
		printConfig(cfg)
		return
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "datasov-bridge",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.L().Error("bridge exited with error", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.L().With(logger.Component("main"))
	ctx = logger.ToContext(ctx, log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	arch := archive.New(c.bridge, c.store, cfg.Bridge.StreamBuffer)
	// vive hasta arch.Stop
	arch.Start(context.WithoutCancel(ctx))

	if err := c.bridge.Start(ctx); err != nil {
		arch.Stop()
		return fmt.Errorf("bridge start: %w", err)
	}
	audit.Log(ctx, audit.BridgeStarted, logger.String("ledgers", cfg.Ledgers.Mode),
		logger.Bool("reconcile", cfg.Bridge.Enabled))

	var jwks []byte
	if c.keys != nil {
		jwks = c.keys.JWKSJSON()
	}
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: router.New(router.Deps{
			Bridge:  c.bridge,
			Store:   c.store,
			JWKS:    jwks,
			Metrics: promhttp.Handler(),
			Limiter: c.limiter,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownCtx = logger.ToContext(shutdownCtx, log)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logger.Err(err))
	}
	c.bridge.Stop(shutdownCtx)
	// la corrida en vuelo publica su SyncResult; el archiver lo guarda antes de cortar
	if err := c.bridge.Drain(shutdownCtx); err != nil {
		log.Warn("reconciliation drain timed out", logger.Err(err))
	}
	arch.Stop()
	c.bridge.Close()
	audit.Log(shutdownCtx, audit.BridgeStopped)
	return serveErr
}

// printConfig imprime la config efectiva sin secretos.
func printConfig(c *config.Config) {
	fmt.Printf(`app.env=%s log.level=%s
server.addr=%s read_timeout=%s write_timeout=%s shutdown_timeout=%s
bridge.enabled=%v reconcile_interval=%s stream_buffer=%d
ledgers.mode=%s seed_file=%s signing_seed=%s identity.url=%s trading.url=%s
marketplace.fee_bps=%d fee_recipient=%s authority=%s
cache.kind=%s ttl=%s redis.addr=%s redis.db=%d redis.prefix=%s
storage.driver=%s dsn=%s max_conns=%d migrate=%v
signing.enabled=%v kid=%s seed=%s
rate.driver=%s max_requests=%d window=%s
`,
		c.App.Env, c.Log.Level,
		c.Server.Addr, c.Server.ReadTimeout, c.Server.WriteTimeout, c.Server.ShutdownTimeout,
		c.Bridge.Enabled, c.Bridge.ReconcileInterval, c.Bridge.StreamBuffer,
		c.Ledgers.Mode, c.Ledgers.SeedFile, util.MaskSecret(c.Ledgers.SigningSeed), c.Ledgers.Identity.URL, c.Ledgers.Trading.URL,
		c.Ledgers.Marketplace.FeeBasisPoints, c.Ledgers.Marketplace.FeeRecipient, c.Ledgers.Marketplace.Authority,
		c.Cache.Kind, c.Cache.TTL, c.Cache.Redis.Addr, c.Cache.Redis.DB, c.Cache.Redis.Prefix,
		c.Storage.Driver, util.MaskDSN(c.Storage.DSN), c.Storage.MaxConns, c.Storage.Migrate,
		c.Signing.Enabled, c.Signing.KID, util.MaskSecret(c.Signing.Seed),
		c.Rate.Driver, c.Rate.MaxRequests, c.Rate.Window,
	)
}
