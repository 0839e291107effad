// Command ledgersim expone los ledgers simulados (memledger) con la API de
// gateway que consume httpledger, más rutas /admin para mover identidades.
//
//	bridge: ledgers.mode=http, identity.url=http://localhost:9090/identity, trading.url=http://localhost:9090/trading
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/dropDatabas3/datasov-bridge/internal/config"
	mw "github.com/dropDatabas3/datasov-bridge/internal/http/middlewares"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/httpledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/memledger"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

func main() {
	var (
		flagAddr       = flag.String("addr", ":9090", "dirección de escucha")
		flagConfigPath = flag.String("config", "", "config.yaml del bridge (usa la sección ledgers)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagStateFile  = flag.String("state-file", "", "si existe se carga en lugar de seed_file; al salir se reescribe")
	)
	flag.Parse()
	if _, err := os.Stat(*flagEnvFile); err == nil {
		_ = godotenv.Load(*flagEnvFile)
	}

	cfg, err := config.Load(*flagConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "ledgersim"})
	defer func() { _ = logger.Sync() }()

	if err := run(*flagAddr, *flagStateFile, cfg); err != nil {
		logger.L().Error("ledgersim exited with error", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(addr, stateFile string, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.L().With(logger.Component("ledgersim"))
	ctx = logger.ToContext(ctx, log)

	pc := memledger.PairConfig{SeedFile: cfg.Ledgers.SeedFile}
	if stateFile != "" {
		if _, err := os.Stat(stateFile); err == nil {
			pc.SeedFile = stateFile
		}
	}
	if cfg.Ledgers.SigningSeed != "" {
		seed, err := base64.StdEncoding.DecodeString(cfg.Ledgers.SigningSeed)
		if err != nil {
			return fmt.Errorf("ledgers.signing_seed: %w", err)
		}
		pc.SigningSeed = seed
	}
	m := cfg.Ledgers.Marketplace
	pc.Marketplace = memledger.MarketplaceConfig{
		Authority:      m.Authority,
		FeeBasisPoints: uint16(m.FeeBasisPoints),
		FeeRecipient:   m.FeeRecipient,
	}
	id, tr, err := memledger.NewPair(pc)
	if err != nil {
		return err
	}
	// los ledgers simulados quedan conectados durante toda la vida del proceso
	if err := id.Connect(ctx); err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return err
	}

	r, err := newMux(ctx, id, tr)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 15 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("ledgersim listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if stateFile != "" {
		if err := memledger.SaveSeedFile(stateFile, memledger.Export(id, tr)); err != nil {
			log.Error("state dump failed", logger.Err(err))
		} else {
			log.Info("state saved", logger.String("path", stateFile))
		}
	}
	_ = id.Disconnect(shutdownCtx)
	_ = tr.Disconnect(shutdownCtx)
	return serveErr
}

// newMux arma los gateways de ambas chains más /admin. Los ledgers ya deben
// estar conectados: los handlers se suscriben a sus eventos al crearse.
func newMux(ctx context.Context, id *memledger.IdentityLedger, tr *memledger.TradingLedger) (http.Handler, error) {
	idH, err := httpledger.NewIdentityHandler(ctx, id)
	if err != nil {
		return nil, err
	}
	trH, err := httpledger.NewTradingHandler(ctx, tr)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(mw.Standard()...)
	mountChain(r, "/identity", ledger.ChainIdentity, idH)
	mountChain(r, "/trading", ledger.ChainTrading, trH)
	r.Route("/admin", func(r chi.Router) {
		r.Use(mw.WithLogFields(logger.Component("ledgersim-admin")))
		r.Mount("/", adminRoutes(id, tr))
	})
	return r, nil
}

// mountChain monta el gateway de una chain con la chain en el logger del request.
func mountChain(r chi.Router, prefix, chain string, h http.Handler) {
	r.Route(prefix, func(r chi.Router) {
		r.Use(mw.WithLogFields(logger.Chain(chain)))
		r.Mount("/", h)
	})
}
