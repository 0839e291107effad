package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.True(t, c.Bridge.Enabled)
	require.Equal(t, 5*time.Minute, c.Bridge.ReconcileInterval)
	require.Equal(t, 30*time.Second, c.Cache.TTL)
	require.Equal(t, "memory", c.Ledgers.Mode)
	require.Equal(t, "memory", c.Storage.Driver)
	require.Equal(t, 250, c.Ledgers.Marketplace.FeeBasisPoints)
}

func TestLoadYAMLKeepsUnsetDefaults(t *testing.T) {
	p := writeYAML(t, `
bridge:
  bridging_enabled: false
  reconcile_interval: 90s
cache:
  ttl: 0s
ledgers:
  marketplace:
    fee_basis_points: 500
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.False(t, c.Bridge.Enabled)
	require.Equal(t, 90*time.Second, c.Bridge.ReconcileInterval)
	require.Zero(t, c.Cache.TTL)
	require.Equal(t, 500, c.Ledgers.Marketplace.FeeBasisPoints)
	require.Equal(t, 64, c.Bridge.StreamBuffer)
	require.Equal(t, ":8080", c.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_RECONCILE_INTERVAL", "1m")
	t.Setenv("BRIDGE_ENABLED", "false")
	t.Setenv("STORAGE_DRIVER", "POSTGRES")
	t.Setenv("STORAGE_DSN", "postgres://bridge@localhost/bridge")
	t.Setenv("RATE_MAX_REQUESTS", "5")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, time.Minute, c.Bridge.ReconcileInterval)
	require.False(t, c.Bridge.Enabled)
	require.Equal(t, "postgres", c.Storage.Driver)
	require.Equal(t, 5, c.Rate.MaxRequests)
}

func TestEnvMalformed(t *testing.T) {
	t.Setenv("CACHE_TTL", "soon")
	_, err := Load("")
	require.ErrorContains(t, err, "CACHE_TTL")
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"interval":     {func(c *Config) { c.Bridge.ReconcileInterval = 0 }, "reconcile_interval"},
		"negative ttl": {func(c *Config) { c.Cache.TTL = -time.Second }, "cache.ttl"},
		"bps":          {func(c *Config) { c.Ledgers.Marketplace.FeeBasisPoints = 10001 }, "fee_basis_points"},
		"mode":         {func(c *Config) { c.Ledgers.Mode = "grpc" }, "ledgers.mode"},
		"http urls":    {func(c *Config) { c.Ledgers.Mode = "http" }, "identity.url"},
		"dsn":          {func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		"rate redis":   {func(c *Config) { c.Rate.Driver = "redis" }, "cache.kind redis"},
		"rate window":  {func(c *Config) { c.Rate.Window = 0 }, "rate.window"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			require.ErrorContains(t, c.Validate(), tc.want)
		})
	}

	c := Default()
	c.Rate.Driver = "off"
	c.Rate.Window = 0
	require.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
