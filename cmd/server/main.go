// Command server starts the apikit method API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"apikit/internal/config"
)

// flagValues holds command-line overrides. Zero values leave the file and
// environment settings untouched.
type flagValues struct {
	configPath   string
	addr         string
	logLevel     string
	logFormat    string
	dbDriver     string
	dbDSN        string
	dbPath       string
	rateBackend  string
	rateWindow   time.Duration
	globalRPS    float64
	globalBurst  int
	signInLimit  int
	signInWindow time.Duration
	redisAddr    string
	badgerDir    string
	tlsCert      string
	tlsKey       string
	adminTable   string
	h2c          bool
}

func parseFlags(args []string, output io.Writer) (flagValues, *flag.FlagSet, error) {
	var fv flagValues
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&fv.configPath, "config", "", "path to YAML configuration file")
	fs.StringVar(&fv.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&fv.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&fv.logFormat, "log-format", "", "log format (json, text, pretty)")
	fs.StringVar(&fv.dbDriver, "db-driver", "", "primary database driver (postgres or sqlite)")
	fs.StringVar(&fv.dbDSN, "db-dsn", "", "primary database connection string")
	fs.StringVar(&fv.dbPath, "db-path", "", "primary sqlite database path")
	fs.StringVar(&fv.rateBackend, "rate-backend", "", "per-method rate limit backend (store, redis, memory, badger)")
	fs.DurationVar(&fv.rateWindow, "rate-window", 0, "per-method rate limit window")
	fs.Float64Var(&fv.globalRPS, "rate-global-rps", 0, "global request rate limit in requests per second")
	fs.IntVar(&fv.globalBurst, "rate-global-burst", 0, "global rate limit burst allowance")
	fs.IntVar(&fv.signInLimit, "rate-sign-in-limit", 0, "maximum sign-in attempts per window for a single IP")
	fs.DurationVar(&fv.signInWindow, "rate-sign-in-window", 0, "window for counting sign-in attempts")
	fs.StringVar(&fv.redisAddr, "rate-redis-addr", "", "Redis address for the redis rate limit backend")
	fs.StringVar(&fv.badgerDir, "rate-badger-dir", "", "directory for the badger rate limit backend")
	fs.StringVar(&fv.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&fv.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&fv.adminTable, "admin-table", "", "table listing admin user ids")
	fs.BoolVar(&fv.h2c, "h2c", false, "serve cleartext HTTP/2 when TLS is off")
	if err := fs.Parse(args); err != nil {
		return flagValues{}, nil, err
	}
	return fv, fs, nil
}

// loadConfig resolves settings with flag > env > file > default precedence.
func loadConfig(args []string, lookup config.LookupFunc, output io.Writer) (config.Config, error) {
	fv, fs, err := parseFlags(args, output)
	if err != nil {
		return config.Config{}, err
	}
	path := fv.configPath
	if path == "" && lookup != nil {
		if v, ok := lookup("APIKIT_CONFIG"); ok {
			path = v
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, fmt.Errorf("environment: %w", err)
	}
	fv.apply(&cfg, fs)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (fv flagValues) apply(cfg *config.Config, fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	str := func(name, value string, dst *string) {
		if set[name] {
			*dst = strings.TrimSpace(value)
		}
	}
	str("addr", fv.addr, &cfg.Addr)
	str("log-level", fv.logLevel, &cfg.Log.Level)
	str("log-format", fv.logFormat, &cfg.Log.Format)
	str("rate-backend", fv.rateBackend, &cfg.RateLimit.Backend)
	str("rate-redis-addr", fv.redisAddr, &cfg.RateLimit.Redis.Addr)
	str("rate-badger-dir", fv.badgerDir, &cfg.RateLimit.BadgerDir)
	str("tls-cert", fv.tlsCert, &cfg.TLS.CertFile)
	str("tls-key", fv.tlsKey, &cfg.TLS.KeyFile)
	str("admin-table", fv.adminTable, &cfg.AdminTable)
	if set["rate-window"] {
		cfg.RateLimit.Window = fv.rateWindow
	}
	if set["rate-global-rps"] {
		cfg.RateLimit.GlobalRPS = fv.globalRPS
	}
	if set["rate-global-burst"] {
		cfg.RateLimit.GlobalBurst = fv.globalBurst
	}
	if set["rate-sign-in-limit"] {
		cfg.RateLimit.SignInLimit = fv.signInLimit
	}
	if set["rate-sign-in-window"] {
		cfg.RateLimit.SignInWindow = fv.signInWindow
	}
	if set["h2c"] {
		cfg.H2C = fv.h2c
	}

	if set["db-driver"] || set["db-dsn"] || set["db-path"] {
		if len(cfg.Databases) == 0 {
			cfg.Databases = []config.DatabaseConfig{{Name: config.DefaultDatabaseName}}
		}
		db := &cfg.Databases[0]
		str("db-driver", fv.dbDriver, &db.Driver)
		str("db-dsn", fv.dbDSN, &db.DSN)
		str("db-path", fv.dbPath, &db.Path)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(2)
	}
	if err := run(ctx, cfg, os.Stdout, nil); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

// run builds the service from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, logOutput io.Writer, ready func(net.Addr)) error {
	a, err := newApp(ctx, cfg, logOutput)
	if err != nil {
		return err
	}
	return a.serve(ctx, ready)
}
