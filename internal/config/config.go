package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. GHOSTREG_LOGGING_LEVEL.
const EnvPrefix = "GHOSTREG_"

// DefaultPath is used when GHOSTREG_CONFIG is unset.
const DefaultPath = "config/ghostreg.toml"

type Config struct {
	Node       NodeConfig       `toml:"node"       envPrefix:"NODE_"`
	Catalogue  CatalogueConfig  `toml:"catalogue"  envPrefix:"CATALOGUE_"`
	Templates  TemplatesConfig  `toml:"templates"  envPrefix:"TEMPLATES_"`
	Network    NetworkConfig    `toml:"network"    envPrefix:"NETWORK_"`
	Collection CollectionConfig `toml:"collection" envPrefix:"COLLECTION_"`
	Journal    JournalConfig    `toml:"journal"    envPrefix:"JOURNAL_"`
	Debug      DebugConfig      `toml:"debug"      envPrefix:"DEBUG_"`
	Logging    LoggingConfig    `toml:"logging"    envPrefix:"LOGGING_"`
}

type NodeConfig struct {
	Name string `toml:"name" env:"NAME"`
	Role string `toml:"role" env:"ROLE"` // "server" or "client"
}

type CatalogueConfig struct {
	Paths []string `toml:"paths" env:"PATHS" envSeparator:","`
}

type TemplatesConfig struct {
	Dir        string `toml:"dir"         env:"DIR"`
	Watch      bool   `toml:"watch"       env:"WATCH"`
	WatchQueue int    `toml:"watch_queue" env:"WATCH_QUEUE"`
	ScriptsDir string `toml:"scripts_dir" env:"SCRIPTS_DIR"`
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"         env:"BIND_ADDRESS"`
	ServerAddress     string        `toml:"server_address"       env:"SERVER_ADDRESS"`
	ProtocolVersion   int32         `toml:"protocol_version"     env:"PROTOCOL_VERSION"`
	TickRate          time.Duration `toml:"tick_rate"            env:"TICK_RATE"`
	InQueueSize       int           `toml:"in_queue_size"        env:"IN_QUEUE_SIZE"`
	OutQueueSize      int           `toml:"out_queue_size"       env:"OUT_QUEUE_SIZE"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick" env:"MAX_PACKETS_PER_TICK"`
	PacketsPerSecond  int           `toml:"packets_per_second"   env:"PACKETS_PER_SECOND"`
	DialTimeout       time.Duration `toml:"dial_timeout"         env:"DIAL_TIMEOUT"`
	WriteTimeout      time.Duration `toml:"write_timeout"        env:"WRITE_TIMEOUT"`
}

type CollectionConfig struct {
	MaxCompilesPerTick int `toml:"max_compiles_per_tick" env:"MAX_COMPILES_PER_TICK"`
	LoadingGraceTicks  int `toml:"loading_grace_ticks"   env:"LOADING_GRACE_TICKS"`
}

type JournalConfig struct {
	Driver             string        `toml:"driver"               env:"DRIVER"` // "none", "postgres" or "sqlite"
	DSN                string        `toml:"dsn"                  env:"DSN"`
	MaxOpenConns       int           `toml:"max_open_conns"       env:"MAX_OPEN_CONNS"`
	MaxIdleConns       int           `toml:"max_idle_conns"       env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime    time.Duration `toml:"conn_max_lifetime"    env:"CONN_MAX_LIFETIME"`
	FlushIntervalTicks int           `toml:"flush_interval_ticks" env:"FLUSH_INTERVAL_TICKS"`
}

type DebugConfig struct {
	HTTPAddress string `toml:"http_address" env:"HTTP_ADDRESS"` // empty disables the server
}

type LoggingConfig struct {
	Level  string `toml:"level"  env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"` // "json" or "console"
}

// Path returns the config file location from the environment.
func Path() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error; the defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Node.Role {
	case "server", "client":
	default:
		return fmt.Errorf("node.role: unknown role %q", c.Node.Role)
	}
	switch c.Journal.Driver {
	case "", "none":
	case "postgres", "sqlite":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn: required for driver %q", c.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal.driver: unknown driver %q", c.Journal.Driver)
	}
	if c.Network.TickRate <= 0 {
		return fmt.Errorf("network.tick_rate: must be positive, got %s", c.Network.TickRate)
	}
	if c.Node.Role == "client" && c.Network.ServerAddress == "" {
		return fmt.Errorf("network.server_address: required for clients")
	}
	if c.Collection.MaxCompilesPerTick < 0 || c.Collection.LoadingGraceTicks < 0 {
		return fmt.Errorf("collection: limits must not be negative")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "ghostreg",
			Role: "server",
		},
		Catalogue: CatalogueConfig{
			Paths: []string{"data/catalogue"},
		},
		Templates: TemplatesConfig{
			Dir:        "data/templates",
			Watch:      false,
			WatchQueue: 64,
			ScriptsDir: "scripts",
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:7101",
			ServerAddress:     "127.0.0.1:7101",
			ProtocolVersion:   1,
			TickRate:          50 * time.Millisecond,
			InQueueSize:       128,
			OutQueueSize:      256,
			MaxPacketsPerTick: 64,
			PacketsPerSecond:  0,
			DialTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Collection: CollectionConfig{
			MaxCompilesPerTick: 0,
			LoadingGraceTicks:  20,
		},
		Journal: JournalConfig{
			Driver:             "none",
			MaxOpenConns:       4,
			MaxIdleConns:       1,
			ConnMaxLifetime:    30 * time.Minute,
			FlushIntervalTicks: 20,
		},
		Debug: DebugConfig{
			HTTPAddress: "127.0.0.1:7180",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
