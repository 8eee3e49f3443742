// Package config loads nodegate settings from a YAML file, the environment and CLI flags,
// in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	WorkflowsDir     string         `yaml:"workflows_dir"`
	InputDir         string         `yaml:"input_dir"`
	CacheFloor       int            `yaml:"cache_floor"`
	ExecutionTimeout time.Duration  `yaml:"execution_timeout"`
	Listen           string         `yaml:"listen"`
	Metrics          bool           `yaml:"metrics"`
	Backend          BackendConfig  `yaml:"backend"`
	Listener         ListenerConfig `yaml:"listener"`
	Log              LogConfig      `yaml:"log"`
	Store            StoreConfig    `yaml:"store"`
}

// BackendConfig locates the execution backend.
type BackendConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// ListenerConfig tunes the event stream supervisor.
type ListenerConfig struct {
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	MaxElapsed        time.Duration `yaml:"max_elapsed"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the template persistence adapter.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WorkflowsDir:     "workflows",
		InputDir:         "input",
		CacheFloor:       1000,
		ExecutionTimeout: 10 * time.Minute,
		Listen:           ":8189",
		Backend: BackendConfig{
			Scheme: "http",
			Host:   "127.0.0.1",
			Port:   8188,
		},
		Listener: ListenerConfig{
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			MaxElapsed:        5 * time.Minute,
			ReconcileInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver: DriverFile,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "nodegate:",
			},
		},
	}
}

// Load reads path over the defaults. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with environment variables read through lookup
// (os.LookupEnv in production).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("NODEGATE_WORKFLOWS_DIR", &cfg.WorkflowsDir)
	str("NODEGATE_INPUT_DIR", &cfg.InputDir)
	num("NODEGATE_CACHE_FLOOR", &cfg.CacheFloor)
	dur("NODEGATE_EXECUTION_TIMEOUT", &cfg.ExecutionTimeout)
	str("NODEGATE_LISTEN", &cfg.Listen)
	str("NODEGATE_LOG_LEVEL", &cfg.Log.Level)
	str("NODEGATE_LOG_FORMAT", &cfg.Log.Format)
	str("NODEGATE_STORE", &cfg.Store.Driver)
	str("NODEGATE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("NODEGATE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	num("NODEGATE_REDIS_DB", &cfg.Store.Redis.DB)
	str("NODEGATE_REDIS_PREFIX", &cfg.Store.Redis.Prefix)
	str("COMFYUI_SCHEME", &cfg.Backend.Scheme)
	str("COMFYUI_HOST", &cfg.Backend.Host)
	num("COMFYUI_PORT", &cfg.Backend.Port)

	if v, ok := lookup("NODEGATE_METRICS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("NODEGATE_METRICS: %w", err))
		} else {
			cfg.Metrics = b
		}
	}
	return errors.Join(errs...)
}

// RegisterFlags declares the flags ApplyFlags understands.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("workflows", def.WorkflowsDir, "Directory holding one <name>.json per template")
	fs.String("input-dir", def.InputDir, "Backend input directory for file parameters")
	fs.String("backend", "", "Backend base URL (overrides host and port), e.g. http://127.0.0.1:8188")
	fs.String("store", def.Store.Driver, "Template store driver: file, redis or memory")
	fs.String("redis-addr", def.Store.Redis.Addr, "Redis address for the redis store")
	fs.String("log-level", def.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log-format", def.Log.Format, "Log format: text or json")
	fs.Duration("timeout", def.ExecutionTimeout, "Execution timeout")
}

// ApplyFlags copies every flag the user set explicitly into cfg.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	str := func(name string, dst *string) {
		if changed(name) {
			*dst = fs.Lookup(name).Value.String()
		}
	}

	str("workflows", &cfg.WorkflowsDir)
	str("input-dir", &cfg.InputDir)
	str("store", &cfg.Store.Driver)
	str("redis-addr", &cfg.Store.Redis.Addr)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("listen", &cfg.Listen)

	if changed("timeout") {
		if cfg.ExecutionTimeout, err = fs.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if changed("backend") {
		if err := cfg.SetBackendURL(fs.Lookup("backend").Value.String()); err != nil {
			return err
		}
	}
	return nil
}

// SetBackendURL splits a base URL into scheme, host and port.
func (c *Config) SetBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend url %q: scheme must be http or https", raw)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, portStr = u.Host, ""
	}
	c.Backend.Scheme = u.Scheme
	c.Backend.Host = host
	switch {
	case portStr != "":
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid backend port %q", portStr)
		}
		c.Backend.Port = port
	case u.Scheme == "https":
		c.Backend.Port = 443
	default:
		c.Backend.Port = 80
	}
	return nil
}

// BackendURL is the base URL of the execution backend.
func (c Config) BackendURL() string {
	host := c.Backend.Host
	if c.Backend.Port > 0 {
		host = net.JoinHostPort(c.Backend.Host, strconv.Itoa(c.Backend.Port))
	}
	return (&url.URL{Scheme: c.Backend.Scheme, Host: host}).String()
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverFile:
		if strings.TrimSpace(c.WorkflowsDir) == "" {
			errs = append(errs, errors.New("workflows_dir is required for the file store"))
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Backend.Scheme != "http" && c.Backend.Scheme != "https" {
		errs = append(errs, fmt.Errorf("backend scheme must be http or https, got %q", c.Backend.Scheme))
	}
	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend host is required"))
	}
	if c.Backend.Port < 0 || c.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend port out of range: %d", c.Backend.Port))
	}
	if c.CacheFloor < 0 {
		errs = append(errs, fmt.Errorf("cache_floor must not be negative, got %d", c.CacheFloor))
	}
	if c.ExecutionTimeout < 0 {
		errs = append(errs, errors.New("execution_timeout must not be negative"))
	}
	if c.Listener.InitialBackoff <= 0 || c.Listener.MaxBackoff < c.Listener.InitialBackoff {
		errs = append(errs, errors.New("listener backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	return errors.Join(errs...)
}
