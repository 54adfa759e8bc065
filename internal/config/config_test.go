package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ghostreg.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_FileOverDefaults(t *testing.T) {
	p := writeConfig(t, `
[node]
name = "edge-1"
role = "client"

[network]
server_address = "10.0.0.2:7101"
tick_rate = "20ms"

[collection]
loading_grace_ticks = 5

[journal]
driver = "sqlite"
dsn = "file:journal.db"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "edge-1", cfg.Node.Name)
	require.Equal(t, "client", cfg.Node.Role)
	require.Equal(t, 20*time.Millisecond, cfg.Network.TickRate)
	require.Equal(t, 5, cfg.Collection.LoadingGraceTicks)
	require.Equal(t, "sqlite", cfg.Journal.Driver)
	// Untouched sections keep their defaults.
	require.Equal(t, 128, cfg.Network.InQueueSize)
	require.Equal(t, []string{"data/catalogue"}, cfg.Catalogue.Paths)
}

func TestLoad_EnvOverlay(t *testing.T) {
	p := writeConfig(t, "[logging]\nlevel = \"info\"\n")
	t.Setenv("GHOSTREG_LOGGING_LEVEL", "debug")
	t.Setenv("GHOSTREG_CATALOGUE_PATHS", "a.yaml,b.yaml")
	t.Setenv("GHOSTREG_NETWORK_TICK_RATE", "100ms")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, []string{"a.yaml", "b.yaml"}, cfg.Catalogue.Paths)
	require.Equal(t, 100*time.Millisecond, cfg.Network.TickRate)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "server", cfg.Node.Role)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "[node\n"))
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"role":      func(c *Config) { c.Node.Role = "relay" },
		"driver":    func(c *Config) { c.Journal.Driver = "mysql" },
		"dsn":       func(c *Config) { c.Journal.Driver = "postgres" },
		"tick rate": func(c *Config) { c.Network.TickRate = 0 },
		"client":    func(c *Config) { c.Node.Role = "client"; c.Network.ServerAddress = "" },
		"negative":  func(c *Config) { c.Collection.MaxCompilesPerTick = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaults()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, defaults().Validate())
}

func TestPath(t *testing.T) {
	t.Setenv("GHOSTREG_CONFIG", "")
	require.Equal(t, DefaultPath, Path())
	t.Setenv("GHOSTREG_CONFIG", "/etc/ghostreg.toml")
	require.Equal(t, "/etc/ghostreg.toml", Path())
}
