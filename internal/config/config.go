package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Bridge struct {
		Enabled           bool          `yaml:"bridging_enabled"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
		StreamBuffer      int           `yaml:"stream_buffer"`
	} `yaml:"bridge"`

	Ledgers struct {
		// memory | http
		Mode     string `yaml:"mode"`
		SeedFile string `yaml:"seed_file"`
		// SigningSeed es la clave Ed25519 (base64) del ledger de identidades simulado.
		SigningSeed string         `yaml:"signing_seed"`
		Identity    LedgerEndpoint `yaml:"identity"`
		Trading     LedgerEndpoint `yaml:"trading"`
		Marketplace struct {
			FeeBasisPoints int    `yaml:"fee_basis_points"`
			FeeRecipient   string `yaml:"fee_recipient"`
			Authority      string `yaml:"authority"`
		} `yaml:"marketplace"`
	} `yaml:"ledgers"`

	Cache struct {
		// memory | redis
		Kind string `yaml:"kind"`
		// TTL de IdentityRecord; 0 deshabilita el cache.
		TTL   time.Duration `yaml:"ttl"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"storage"`

	Signing struct {
		Enabled bool   `yaml:"enabled"`
		KID     string `yaml:"kid"`
		// Seed Ed25519 en base64; vacío genera una clave efímera de dev.
		Seed string `yaml:"seed"`
	} `yaml:"signing"`

	Rate struct {
		// memory | redis | off
		Driver      string        `yaml:"driver"`
		MaxRequests int           `yaml:"max_requests"`
		Window      time.Duration `yaml:"window"`
	} `yaml:"rate"`
}

// LedgerEndpoint es un gateway remoto (ledgers.mode: http).
type LedgerEndpoint struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	PollWait time.Duration `yaml:"poll_wait"`
}

// Default retorna la configuración por defecto; Load la pisa con YAML y env.
func Default() *Config {
	var c Config
	c.App.Env = "dev"
	c.Log.Level = "info"
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Bridge.Enabled = true
	c.Bridge.ReconcileInterval = 5 * time.Minute
	c.Bridge.StreamBuffer = 64
	c.Ledgers.Mode = "memory"
	c.Ledgers.Identity.Timeout = 10 * time.Second
	c.Ledgers.Identity.PollWait = 25 * time.Second
	c.Ledgers.Trading.Timeout = 10 * time.Second
	c.Ledgers.Trading.PollWait = 25 * time.Second
	c.Ledgers.Marketplace.FeeBasisPoints = 250
	c.Ledgers.Marketplace.FeeRecipient = "marketplace"
	c.Cache.Kind = "memory"
	c.Cache.TTL = 30 * time.Second
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "bridge:"
	c.Storage.Driver = "memory"
	c.Signing.Enabled = true
	c.Signing.KID = "bridge-dev"
	c.Rate.Driver = "memory"
	c.Rate.MaxRequests = 30
	c.Rate.Window = time.Minute
	return &c
}

// Load lee path (opcional), aplica overrides de entorno y valida.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// Los helpers tipados reportan valores mal formados en vez de ignorarlos.
func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("config: %s: %w", key, err)
	}
	return i, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, true, nil
}

func getEnvDur(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, true, nil
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"APP_ENV", &c.App.Env},
		{"LOG_LEVEL", &c.Log.Level},
		{"SERVER_ADDR", &c.Server.Addr},
		{"LEDGERS_MODE", &c.Ledgers.Mode},
		{"LEDGERS_SEED_FILE", &c.Ledgers.SeedFile},
		{"LEDGERS_SIGNING_SEED", &c.Ledgers.SigningSeed},
		{"IDENTITY_LEDGER_URL", &c.Ledgers.Identity.URL},
		{"TRADING_LEDGER_URL", &c.Ledgers.Trading.URL},
		{"MARKETPLACE_FEE_RECIPIENT", &c.Ledgers.Marketplace.FeeRecipient},
		{"MARKETPLACE_AUTHORITY", &c.Ledgers.Marketplace.Authority},
		{"CACHE_KIND", &c.Cache.Kind},
		{"REDIS_ADDR", &c.Cache.Redis.Addr},
		{"REDIS_PASSWORD", &c.Cache.Redis.Password},
		{"REDIS_PREFIX", &c.Cache.Redis.Prefix},
		{"STORAGE_DRIVER", &c.Storage.Driver},
		{"STORAGE_DSN", &c.Storage.DSN},
		{"SIGNING_KID", &c.Signing.KID},
		{"SIGNING_SEED", &c.Signing.Seed},
		{"RATE_DRIVER", &c.Rate.Driver},
	}
	for _, s := range strs {
		if v, ok := getEnvStr(s.key); ok {
			*s.dst = strings.TrimSpace(v)
		}
	}

	var errs []error
	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"BRIDGE_RECONCILE_INTERVAL", &c.Bridge.ReconcileInterval},
		{"CACHE_TTL", &c.Cache.TTL},
		{"RATE_WINDOW", &c.Rate.Window},
		{"SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
	}
	for _, d := range durs {
		v, ok, err := getEnvDur(d.key)
		errs = append(errs, err)
		if ok {
			*d.dst = v
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"MARKETPLACE_FEE_BPS", &c.Ledgers.Marketplace.FeeBasisPoints},
		{"RATE_MAX_REQUESTS", &c.Rate.MaxRequests},
		{"REDIS_DB", &c.Cache.Redis.DB},
	}
	for _, i := range ints {
		v, ok, err := getEnvInt(i.key)
		errs = append(errs, err)
		if ok {
			*i.dst = v
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"BRIDGE_ENABLED", &c.Bridge.Enabled},
		{"SIGNING_ENABLED", &c.Signing.Enabled},
		{"STORAGE_MIGRATE", &c.Storage.Migrate},
	}
	for _, b := range bools {
		v, ok, err := getEnvBool(b.key)
		errs = append(errs, err)
		if ok {
			*b.dst = v
		}
	}
	return errors.Join(errs...)
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s must be one of %s (got %q)", field, strings.Join(allowed, "|"), v)
}

// Validate chequea enums, duraciones y combinaciones requeridas.
func (c *Config) Validate() error {
	c.Ledgers.Mode = strings.ToLower(c.Ledgers.Mode)
	c.Cache.Kind = strings.ToLower(c.Cache.Kind)
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Rate.Driver = strings.ToLower(c.Rate.Driver)

	errs := []error{
		oneOf("app.env", c.App.Env, "dev", "staging", "prod"),
		oneOf("ledgers.mode", c.Ledgers.Mode, "memory", "http"),
		oneOf("cache.kind", c.Cache.Kind, "memory", "redis"),
		oneOf("storage.driver", c.Storage.Driver, "memory", "postgres"),
		oneOf("rate.driver", c.Rate.Driver, "memory", "redis", "off"),
	}
	if c.Bridge.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("config: bridge.reconcile_interval must be positive"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("config: cache.ttl must not be negative"))
	}
	if bps := c.Ledgers.Marketplace.FeeBasisPoints; bps < 0 || bps > 10000 {
		errs = append(errs, fmt.Errorf("config: ledgers.marketplace.fee_basis_points out of range: %d", bps))
	}
	if c.Ledgers.Mode == "http" && (c.Ledgers.Identity.URL == "" || c.Ledgers.Trading.URL == "") {
		errs = append(errs, errors.New("config: ledgers.mode http needs identity.url and trading.url"))
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("config: storage.dsn required for postgres"))
	}
	if c.Rate.Driver == "redis" && c.Cache.Kind != "redis" {
		errs = append(errs, errors.New("config: rate.driver redis shares the cache redis; set cache.kind redis"))
	}
	if c.Rate.Driver != "off" && (c.Rate.MaxRequests <= 0 || c.Rate.Window <= 0) {
		errs = append(errs, errors.New("config: rate.max_requests and rate.window must be positive"))
	}
	return errors.Join(errs...)
}
