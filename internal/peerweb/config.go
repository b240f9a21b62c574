package peerweb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"peerweb/internal/logging"
	"peerweb/internal/site"
	"peerweb/internal/vpath"
)

// EnvPrefix prefixes every environment override, e.g. PEERWEB_SERVER_PORT.
const EnvPrefix = "PEERWEB"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channel  ChannelConfig  `yaml:"channel"`
	RPC      RPCConfig      `yaml:"rpc"`
	Media    MediaConfig    `yaml:"media"`
	Rewrite  RewriteConfig  `yaml:"rewrite"`
	Host     HostConfig     `yaml:"host"`
	Provider ProviderConfig `yaml:"provider"`
	Durable  DurableConfig  `yaml:"durable"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metricsPort" split_words:"true"`
	Namespace   string `yaml:"namespace"`
	// Host is the public host of the virtual origin. Absolute-form requests
	// naming any other host are external. Empty accepts every host.
	Host string `yaml:"host"`
	// Origin is the upstream non-virtual requests are proxied to.
	Origin string `yaml:"origin"`
	// AllowExternal lets absolute-form requests for other hosts through.
	AllowExternal   bool   `yaml:"allowExternal" split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`

	shutdownTimeout time.Duration
}

type ChannelConfig struct {
	Mode   string `yaml:"mode"` // memory | websocket
	Path   string `yaml:"path"`
	Buffer int    `yaml:"buffer"`
	// Token is the shared secret a websocket content side presents as a
	// bearer token. Without one only loopback peers may connect.
	Token string `yaml:"token"`
}

type RPCConfig struct {
	Timeout      string `yaml:"timeout"`
	MediaTimeout string `yaml:"mediaTimeout" split_words:"true"`

	timeout      time.Duration
	mediaTimeout time.Duration
}

type MediaConfig struct {
	Threshold string `yaml:"threshold"`
	Max       string `yaml:"max"`

	threshold int64
	max       int64
}

type RewriteConfig struct {
	AllowScripts bool `yaml:"allowScripts" split_words:"true"`
}

type HostConfig struct {
	// MaxInline is the media size above which ranged requests get chunks.
	MaxInline string `yaml:"maxInline" split_words:"true"`
	// Site is loaded when the host starts.
	Site string `yaml:"site"`

	maxInline int64
}

type ProviderConfig struct {
	Root        string `yaml:"root"`
	FileTimeout string `yaml:"fileTimeout" split_words:"true"`

	fileTimeout time.Duration
}

type DurableConfig struct {
	Type   string      `yaml:"type"`
	Path   string      `yaml:"path"`
	Max    string      `yaml:"max"`
	MaxAge string      `yaml:"maxAge" split_words:"true"`
	Redis  RedisConfig `yaml:"redis"`

	max    int64
	maxAge time.Duration
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LoggingConfig struct {
	logging.Config `yaml:",inline"`
	// StatsEvery enables the periodic stats line.
	StatsEvery string `yaml:"statsEvery" split_words:"true"`

	statsEvery time.Duration
}

// LoadConfig reads the yaml file at path (skipped when path is empty), then
// .env, then PEERWEB_* environment overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig is the configuration used without a file or overrides.
func DefaultConfig() Config {
	var cfg Config
	if err := cfg.compile(); err != nil {
		panic(err)
	}
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Namespace == "" {
		cfg.Server.Namespace = vpath.DefaultNamespace
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}
	if cfg.Channel.Mode == "" {
		cfg.Channel.Mode = "memory"
	}
	if cfg.Channel.Path == "" {
		cfg.Channel.Path = "/_peerweb/channel"
	}
	if cfg.Channel.Buffer == 0 {
		cfg.Channel.Buffer = 256
	}
	if cfg.RPC.Timeout == "" {
		cfg.RPC.Timeout = "5s"
	}
	if cfg.RPC.MediaTimeout == "" {
		cfg.RPC.MediaTimeout = "10s"
	}
	if cfg.Media.Threshold == "" {
		cfg.Media.Threshold = "100kb"
	}
	if cfg.Media.Max == "" {
		cfg.Media.Max = "512mb"
	}
	if cfg.Host.MaxInline == "" {
		cfg.Host.MaxInline = "64mb"
	}
	if cfg.Provider.Root == "" {
		cfg.Provider.Root = "./sites"
	}
	if cfg.Provider.FileTimeout == "" {
		cfg.Provider.FileTimeout = "5s"
	}
	if cfg.Durable.Type == "" {
		cfg.Durable.Type = string(site.StoreLevelDB)
	}
	if cfg.Durable.Path == "" {
		cfg.Durable.Path = "./data/leveldb"
	}
	if cfg.Durable.Max == "" {
		cfg.Durable.Max = "1gb"
	}
	if cfg.Durable.MaxAge == "" {
		cfg.Durable.MaxAge = "168h"
	}
}

func (cfg *Config) compile() error {
	cfg.applyDefaults()

	ns := strings.Trim(cfg.Server.Namespace, "/")
	if ns == "" || strings.Contains(ns, "/") {
		return fmt.Errorf("server.namespace: invalid %q", cfg.Server.Namespace)
	}
	cfg.Server.Namespace = ns
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if !strings.HasPrefix(cfg.Channel.Path, "/") {
		return fmt.Errorf("channel.path: must start with /, got %q", cfg.Channel.Path)
	}
	switch cfg.Channel.Mode {
	case "memory", "websocket":
	default:
		return fmt.Errorf("channel.mode: unsupported %q", cfg.Channel.Mode)
	}
	switch site.StoreType(cfg.Durable.Type) {
	case site.StoreLevelDB, site.StoreRedis, site.StoreMemory:
	default:
		return fmt.Errorf("durable.type: unsupported %q", cfg.Durable.Type)
	}
	if cfg.Host.Site != "" && !vpath.ValidSiteID(cfg.Host.Site) {
		return fmt.Errorf("host.site: %w: %q", site.ErrInvalidSiteID, cfg.Host.Site)
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"server.shutdownTimeout", cfg.Server.ShutdownTimeout, &cfg.Server.shutdownTimeout},
		{"rpc.timeout", cfg.RPC.Timeout, &cfg.RPC.timeout},
		{"rpc.mediaTimeout", cfg.RPC.MediaTimeout, &cfg.RPC.mediaTimeout},
		{"provider.fileTimeout", cfg.Provider.FileTimeout, &cfg.Provider.fileTimeout},
		{"durable.maxAge", cfg.Durable.MaxAge, &cfg.Durable.maxAge},
		{"logging.statsEvery", cfg.Logging.StatsEvery, &cfg.Logging.statsEvery},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.out = v
	}

	sizes := []struct {
		name string
		in   string
		out  *int64
	}{
		{"media.threshold", cfg.Media.Threshold, &cfg.Media.threshold},
		{"media.max", cfg.Media.Max, &cfg.Media.max},
		{"host.maxInline", cfg.Host.MaxInline, &cfg.Host.maxInline},
		{"durable.max", cfg.Durable.Max, &cfg.Durable.max},
	}
	for _, s := range sizes {
		v, err := parseBytes(s.in)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.out = v
	}
	return nil
}

func (c RPCConfig) TimeoutDuration() time.Duration      { return c.timeout }
func (c RPCConfig) MediaTimeoutDuration() time.Duration { return c.mediaTimeout }
func (c ServerConfig) ShutdownDuration() time.Duration  { return c.shutdownTimeout }
func (c HostConfig) MaxInlineBytes() int64              { return c.maxInline }

// StoreConfig maps the durable block onto the site store factory.
func (c DurableConfig) StoreConfig() site.StoreConfig {
	return site.StoreConfig{
		Type:          site.StoreType(c.Type),
		MaxAge:        c.maxAge,
		Path:          c.Path,
		MaxBytes:      c.max,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisPrefix:   c.Redis.Prefix,
	}
}

// Provider builds the directory provider described by the provider block.
func (c ProviderConfig) Provider() *site.DirProvider {
	return &site.DirProvider{Root: c.Root, FileTimeout: c.fileTimeout}
}
