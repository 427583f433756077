package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vjranagit/qualitytrend/pkg/api"
	"github.com/vjranagit/qualitytrend/pkg/client"
	"github.com/vjranagit/qualitytrend/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. QT_STORAGE_PATH
const EnvPrefix = "QT"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Client  ClientConfig  `mapstructure:"client"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SessionHeader     string        `mapstructure:"session_header"`
	SessionNameHeader string        `mapstructure:"session_name_header"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Driver           string `mapstructure:"driver"`
	Path             string `mapstructure:"path"`
	CompressionLevel int    `mapstructure:"compression_level"`
	EnableWAL        bool   `mapstructure:"enable_wal"`
	DSN              string `mapstructure:"dsn"`
}

// ClientConfig holds the settings of the command line client
type ClientConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Token   string            `mapstructure:"token"`
	User    string            `mapstructure:"user"`
	Headers map[string]string `mapstructure:"headers"`
}

// CacheConfig holds response cache configuration. A Redis URL selects the shared cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	srv := api.DefaultConfig()
	st := storage.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:        srv.ListenAddr,
			Timeout:           srv.Timeout,
			SessionHeader:     srv.SessionHeader,
			SessionNameHeader: srv.SessionNameHeader,
		},
		Storage: StorageConfig{
			Driver:           st.Driver,
			Path:             st.Path,
			CompressionLevel: st.CompressionLevel,
			EnableWAL:        st.EnableWAL,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: client.DefaultTimeout,
		},
		Cache: CacheConfig{
			Enabled:  true,
			TTL:      30 * time.Second,
			Capacity: 500,
			Prefix:   "qualitytrend:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a .env file when present, then the config file at path (or qualitytrend.yaml in
// the working directory), then QT_* environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("qualitytrend")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.session_header", d.Server.SessionHeader)
	v.SetDefault("server.session_name_header", d.Server.SessionNameHeader)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.compression_level", d.Storage.CompressionLevel)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("client.token", d.Client.Token)
	v.SetDefault("client.user", d.Client.User)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.prefix", d.Cache.Prefix)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Driver:           c.Storage.Driver,
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		DSN:              c.Storage.DSN,
	}
}

// ToServerConfig converts to api.Config
func (c *Config) ToServerConfig() api.Config {
	return api.Config{
		ListenAddr:        c.Server.ListenAddr,
		Timeout:           c.Server.Timeout,
		SessionHeader:     c.Server.SessionHeader,
		SessionNameHeader: c.Server.SessionNameHeader,
	}
}

// ToClientConfig converts to client.Config. A configured user travels in the server's session
// header, the way an authenticating proxy would set it.
func (c *Config) ToClientConfig() client.Config {
	headers := make(map[string]string, len(c.Client.Headers)+1)
	for k, v := range c.Client.Headers {
		headers[k] = v
	}
	if c.Client.User != "" && c.Server.SessionHeader != "" {
		headers[c.Server.SessionHeader] = c.Client.User
	}
	return client.Config{
		BaseURL: c.Client.BaseURL,
		Timeout: c.Client.Timeout,
		Token:   c.Client.Token,
		Headers: headers,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}

	switch c.Storage.Driver {
	case storage.DriverBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
			return fmt.Errorf("compression level must be between 1 and 4")
		}
	case storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if u, err := url.Parse(c.Client.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client base url %q must be an absolute URL", c.Client.BaseURL)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive")
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console")
	}

	return nil
}
