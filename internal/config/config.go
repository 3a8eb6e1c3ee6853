// Package config loads service settings from an optional YAML file and
// APIKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"apikit/internal/observability/logging"
)

// Limiter backends.
const (
	BackendNone   = ""
	BackendStore  = "store"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Defaults applied by Default and Normalize.
const (
	DefaultAddr            = ":8080"
	DefaultDatabaseName    = "main"
	DefaultSQLitePath      = "apikit.db"
	DefaultAdminTable      = "admins"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultWindow          = time.Minute
	DefaultCacheTTL        = 30 * time.Second
	DefaultCacheSize       = 1024
)

type Config struct {
	Addr            string           `yaml:"addr"`
	Log             LogConfig        `yaml:"log"`
	Databases       []DatabaseConfig `yaml:"databases"`
	RateLimit       RateLimitConfig  `yaml:"rate_limit"`
	TLS             TLSConfig        `yaml:"tls"`
	H2C             bool             `yaml:"h2c"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	AdminTable      string           `yaml:"admin_table"`
	TokenBytes      int              `yaml:"token_bytes"`
	TokenCache      TokenCacheConfig `yaml:"token_cache"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Name         string        `yaml:"name"`
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn,omitempty"`
	Host         string        `yaml:"host,omitempty"`
	User         string        `yaml:"user,omitempty"`
	Password     string        `yaml:"password,omitempty"`
	Database     string        `yaml:"database,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	Charset      string        `yaml:"charset,omitempty"`
	Path         string        `yaml:"path,omitempty"`
	QueryTimeout time.Duration `yaml:"query_timeout,omitempty"`
}

type RateLimitConfig struct {
	Backend      string        `yaml:"backend"`
	Window       time.Duration `yaml:"window"`
	GlobalRPS    float64       `yaml:"global_rps"`
	GlobalBurst  int           `yaml:"global_burst"`
	SignInLimit  int           `yaml:"sign_in_limit"`
	SignInWindow time.Duration `yaml:"sign_in_window"`
	Redis        RedisConfig   `yaml:"redis"`
	BadgerDir    string        `yaml:"badger_dir"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Addrs      []string      `yaml:"addrs"`
	MasterName string        `yaml:"master_name"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	Timeout    time.Duration `yaml:"timeout"`
	Prefix     string        `yaml:"prefix"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
}

type TokenCacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:            DefaultAddr,
		Log:             LogConfig{Level: "info", Format: "json"},
		ShutdownTimeout: DefaultShutdownTimeout,
		AdminTable:      DefaultAdminTable,
		RateLimit:       RateLimitConfig{Window: DefaultWindow},
	}
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills defaults left empty by the file and environment.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if len(c.Databases) == 0 {
		c.Databases = []DatabaseConfig{{Name: DefaultDatabaseName, Driver: "sqlite", Path: DefaultSQLitePath}}
	}
	for i := range c.Databases {
		db := &c.Databases[i]
		db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
		if db.Name == "" {
			if i == 0 {
				db.Name = DefaultDatabaseName
			} else {
				db.Name = fmt.Sprintf("db%d", i)
			}
		}
	}
	c.RateLimit.Backend = strings.ToLower(strings.TrimSpace(c.RateLimit.Backend))
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = DefaultWindow
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if strings.TrimSpace(c.AdminTable) == "" {
		c.AdminTable = DefaultAdminTable
	}
	if c.TokenCache.TTL <= 0 {
		c.TokenCache.TTL = DefaultCacheTTL
	}
	if c.TokenCache.Size == 0 {
		c.TokenCache.Size = DefaultCacheSize
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Databases))
	for _, db := range c.Databases {
		if _, dup := seen[db.Name]; dup {
			errs = append(errs, fmt.Errorf("database %q configured twice", db.Name))
		}
		seen[db.Name] = struct{}{}
		switch db.Driver {
		case "postgres":
			if db.DSN == "" && db.Host == "" {
				errs = append(errs, fmt.Errorf("database %q: postgres requires dsn or host", db.Name))
			}
		case "sqlite":
			if db.Path == "" {
				errs = append(errs, fmt.Errorf("database %q: sqlite requires path", db.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("database %q: unknown driver %q", db.Name, db.Driver))
		}
	}
	switch c.RateLimit.Backend {
	case BackendNone, BackendStore, BackendMemory, BackendBadger:
	case BackendRedis:
		if c.RateLimit.Redis.Addr == "" && len(c.RateLimit.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("rate_limit: redis backend requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit: unknown backend %q", c.RateLimit.Backend))
	}
	if c.RateLimit.GlobalRPS < 0 {
		errs = append(errs, errors.New("rate_limit: global_rps must not be negative"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls: cert and key must be set together"))
	}
	if c.TokenBytes < 0 {
		errs = append(errs, errors.New("token_bytes must not be negative"))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides settings from APIKIT_* variables. Database variables
// apply to the first configured database, creating it when absent. Invalid
// numeric values are returned as errors rather than ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	env.str("APIKIT_ADDR", &c.Addr)
	env.str("APIKIT_LOG_LEVEL", &c.Log.Level)
	env.str("APIKIT_LOG_FORMAT", &c.Log.Format)
	env.str("APIKIT_TLS_CERT", &c.TLS.CertFile)
	env.str("APIKIT_TLS_KEY", &c.TLS.KeyFile)
	env.boolean("APIKIT_H2C", &c.H2C)
	env.duration("APIKIT_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	env.str("APIKIT_ADMIN_TABLE", &c.AdminTable)
	env.integer("APIKIT_TOKEN_BYTES", &c.TokenBytes)
	env.integer("APIKIT_TOKEN_CACHE_SIZE", &c.TokenCache.Size)
	env.duration("APIKIT_TOKEN_CACHE_TTL", &c.TokenCache.TTL)

	rl := &c.RateLimit
	env.str("APIKIT_RATE_BACKEND", &rl.Backend)
	env.duration("APIKIT_RATE_WINDOW", &rl.Window)
	env.float("APIKIT_RATE_GLOBAL_RPS", &rl.GlobalRPS)
	env.integer("APIKIT_RATE_GLOBAL_BURST", &rl.GlobalBurst)
	env.integer("APIKIT_RATE_SIGN_IN_LIMIT", &rl.SignInLimit)
	env.duration("APIKIT_RATE_SIGN_IN_WINDOW", &rl.SignInWindow)
	env.str("APIKIT_RATE_BADGER_DIR", &rl.BadgerDir)
	env.str("APIKIT_RATE_REDIS_ADDR", &rl.Redis.Addr)
	env.list("APIKIT_RATE_REDIS_ADDRS", &rl.Redis.Addrs)
	env.str("APIKIT_RATE_REDIS_MASTER_NAME", &rl.Redis.MasterName)
	env.str("APIKIT_RATE_REDIS_USERNAME", &rl.Redis.Username)
	env.str("APIKIT_RATE_REDIS_PASSWORD", &rl.Redis.Password)
	env.integer("APIKIT_RATE_REDIS_DB", &rl.Redis.DB)
	env.integer("APIKIT_RATE_REDIS_POOL_SIZE", &rl.Redis.PoolSize)
	env.duration("APIKIT_RATE_REDIS_TIMEOUT", &rl.Redis.Timeout)

	var db DatabaseConfig
	if len(c.Databases) > 0 {
		db = c.Databases[0]
	}
	before := db
	env.str("APIKIT_DB_DRIVER", &db.Driver)
	env.str("APIKIT_DB_DSN", &db.DSN)
	env.str("APIKIT_DB_HOST", &db.Host)
	env.str("APIKIT_DB_USER", &db.User)
	env.str("APIKIT_DB_PASSWORD", &db.Password)
	env.str("APIKIT_DB_NAME", &db.Database)
	env.integer("APIKIT_DB_PORT", &db.Port)
	env.str("APIKIT_DB_PATH", &db.Path)
	env.duration("APIKIT_DB_QUERY_TIMEOUT", &db.QueryTimeout)
	if db != before {
		if len(c.Databases) == 0 {
			c.Databases = append(c.Databases, db)
		} else {
			c.Databases[0] = db
		}
	}

	return errors.Join(env.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}
