package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/idcache"
	"github.com/dropDatabas3/datasov-bridge/internal/cache"
	"github.com/dropDatabas3/datasov-bridge/internal/config"
	jwtx "github.com/dropDatabas3/datasov-bridge/internal/jwt"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/httpledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/memledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
	"github.com/dropDatabas3/datasov-bridge/internal/rate"
	"github.com/dropDatabas3/datasov-bridge/internal/store"
)

// components es todo lo que main arma a partir de la config.
type components struct {
	identity ledger.IdentityLedger
	trading  ledger.TradingLedger
	redis    *rdb.Client
	cache    cache.Client
	store    store.Store
	keys     *jwtx.KeySet
	limiter  rate.Limiter
	bridge   *bridge.Bridge
}

// close libera en orden inverso; tolera componentes sin armar.
func (c *components) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
	if c.cache != nil {
		_ = c.cache.Close()
	} else if c.redis != nil {
		_ = c.redis.Close()
	}
}

func build(ctx context.Context, cfg *config.Config) (*components, error) {
	log := logger.From(ctx).With(logger.Layer("wiring"))
	c := &components{}

	var err error
	if c.identity, c.trading, err = buildLedgers(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.Cache.Kind == "redis" {
		c.redis = rdb.NewClient(&rdb.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = c.redis.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		c.cache = cache.NewRedisFromClient(c.redis, cfg.Cache.Redis.Prefix, cfg.Cache.TTL)
	} else {
		c.cache = cache.NewMemory(cfg.Cache.Redis.Prefix, cfg.Cache.TTL)
	}

	c.store, err = store.Open(ctx, store.Config{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		MaxConns: cfg.Storage.MaxConns,
		Migrate:  cfg.Storage.Migrate,
	})
	if err != nil {
		c.close()
		return nil, fmt.Errorf("store: %w", err)
	}
	if pg, ok := c.store.(*store.Postgres); ok {
		if err := metrics.RegisterCollector(prometheus.DefaultRegisterer,
			metrics.NewPoolCollector(func() *pgxpool.Pool { return pg.Pool() })); err != nil {
			log.Warn("pool collector not registered", logger.Err(err))
		}
	}

	c.limiter, err = rate.New(rate.Config{
		Driver: cfg.Rate.Driver,
		Max:    cfg.Rate.MaxRequests,
		Window: cfg.Rate.Window,
		Prefix: cfg.Cache.Redis.Prefix + "rl:",
	}, c.redis)
	if err != nil {
		c.close()
		return nil, err
	}

	deps := bridge.Deps{
		Identity: c.identity,
		Trading:  c.trading,
		Cache:    idcache.New(c.identity, c.cache, cfg.Cache.TTL),
		Fees:     c.store,
	}
	if cfg.Signing.Enabled {
		if c.keys, err = signingKeys(cfg); err != nil {
			c.close()
			return nil, err
		}
		deps.Signer = jwtx.NewSigner(c.keys)
	} else {
		log.Warn("envelope signing disabled, events carry the unsigned placeholder")
	}

	c.bridge = bridge.New(bridge.Config{
		Enabled:           cfg.Bridge.Enabled,
		ReconcileInterval: cfg.Bridge.ReconcileInterval,
		StreamBuffer:      cfg.Bridge.StreamBuffer,
	}, deps)
	return c, nil
}

func signingKeys(cfg *config.Config) (*jwtx.KeySet, error) {
	if strings.TrimSpace(cfg.Signing.Seed) == "" {
		if cfg.App.Env == "prod" {
			return nil, errors.New("signing.seed requerido en prod")
		}
		return jwtx.NewDevEd25519(cfg.Signing.KID)
	}
	return jwtx.FromSeed(cfg.Signing.KID, cfg.Signing.Seed)
}

func buildLedgers(ctx context.Context, cfg *config.Config) (ledger.IdentityLedger, ledger.TradingLedger, error) {
	if cfg.Ledgers.Mode == "http" {
		id := httpledger.NewIdentityClient(httpledger.Config{
			BaseURL:  cfg.Ledgers.Identity.URL,
			Timeout:  cfg.Ledgers.Identity.Timeout,
			PollWait: cfg.Ledgers.Identity.PollWait,
		})
		tr := httpledger.NewTradingClient(httpledger.Config{
			BaseURL:  cfg.Ledgers.Trading.URL,
			Timeout:  cfg.Ledgers.Trading.Timeout,
			PollWait: cfg.Ledgers.Trading.PollWait,
		})
		return id, tr, nil
	}
	id, tr, err := newMemLedgers(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.From(ctx).Info("using in-memory ledgers", logger.Layer("wiring"),
		logger.String("seed_file", cfg.Ledgers.SeedFile))
	return id, tr, nil
}

func newMemLedgers(cfg *config.Config) (*memledger.IdentityLedger, *memledger.TradingLedger, error) {
	pc := memledger.PairConfig{SeedFile: cfg.Ledgers.SeedFile}
	if s := strings.TrimSpace(cfg.Ledgers.SigningSeed); s != "" {
		seed, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, nil, fmt.Errorf("ledgers.signing_seed: %w", err)
		}
		pc.SigningSeed = seed
	}
	m := cfg.Ledgers.Marketplace
	pc.Marketplace = memledger.MarketplaceConfig{
		Authority:      m.Authority,
		FeeBasisPoints: uint16(m.FeeBasisPoints),
		FeeRecipient:   m.FeeRecipient,
	}
	return memledger.NewPair(pc)
}
