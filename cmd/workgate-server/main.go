// workgate-server runs the workgate permission and session API.
//
// Storage is PostgreSQL (--database-url) or an in-memory store (--memory).
// With --redis-addr the login throttle is enabled, and --redis-sessions moves
// the current-jti table and the logout blacklist to Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/workgate"
	"github.com/MrEthical07/workgate/internal/httpapi"
	"github.com/MrEthical07/workgate/session"
	"github.com/MrEthical07/workgate/store/pg"
)

type options struct {
	addr          string
	configPath    string
	envFile       string
	databaseURL   string
	memory        bool
	migrate       bool
	redisAddr     string
	redisSessions bool
	logLevel      string
	loginBurst    int
	loginRate     float64
	secureCookie  bool
	purgeEvery    time.Duration
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("workgate-server", pflag.ContinueOnError)
	flagSet.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flagSet.StringVar(&opts.configPath, "config", "", "YAML config file")
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing is fine)")
	flagSet.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL DSN (default $WORKGATE_DATABASE_URL)")
	flagSet.BoolVar(&opts.memory, "memory", false, "use the in-memory store instead of PostgreSQL")
	flagSet.BoolVar(&opts.migrate, "migrate", false, "apply the schema and seed the built-in roles on start")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the login throttle (default $WORKGATE_REDIS_ADDR)")
	flagSet.BoolVar(&opts.redisSessions, "redis-sessions", false, "keep current jtis and the blacklist in Redis")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.IntVar(&opts.loginBurst, "login-burst", 10, "login requests per client IP before pacing applies (0 disables)")
	flagSet.Float64Var(&opts.loginRate, "login-rate", 1, "sustained login requests per second per client IP")
	flagSet.BoolVar(&opts.secureCookie, "secure-cookie", true, "mark the session cookie Secure")
	flagSet.DurationVar(&opts.purgeEvery, "purge-interval", time.Hour, "how often expired blacklist and two-factor rows are deleted")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("WORKGATE_DATABASE_URL")
	}
	if opts.redisAddr == "" {
		opts.redisAddr = os.Getenv("WORKGATE_REDIS_ADDR")
	}

	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	cfg, env, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "environment", env, "path", opts.configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := workgate.New().WithConfig(cfg).WithLogger(logger).WithMailer(workgate.LogMailer{Logger: logger})

	var ready func(context.Context) error
	var pgStore *pg.Store
	switch {
	case opts.memory:
		store, err := newMemoryStore()
		if err != nil {
			return err
		}
		builder = builder.WithStore(store)
		logger.Warn("using in-memory store; state is lost on exit")
	case opts.databaseURL != "":
		pgStore, err = pg.Open(opts.databaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pgStore.Close()
		if err := pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if opts.migrate {
			if err := migrate(ctx, pgStore); err != nil {
				return err
			}
			logger.Info("schema applied")
		}
		builder = builder.WithStore(pgStore)
		ready = pgStore.Ping
	default:
		return errors.New("either --database-url or --memory is required")
	}

	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		builder = builder.WithRedis(client)
		if opts.redisSessions {
			// Entries must outlive the longest token.
			ttl := max(cfg.Token.AdminTTL, cfg.Token.EmployeeTTL) + time.Hour
			sessions := session.NewStore(client, cfg.RateLimit.Prefix, ttl)
			builder = builder.WithSessionStore(sessions)
			ready = chainReady(ready, sessions.Ping)
		}
	} else if opts.redisSessions {
		return errors.New("--redis-sessions needs --redis-addr")
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	api, err := httpapi.New(ctx, engine, httpapi.Options{
		Logger:         logger,
		Ready:          ready,
		LoginBurst:     opts.loginBurst,
		LoginPerSecond: opts.loginRate,
		SecureCookie:   opts.secureCookie,
	})
	if err != nil {
		return fmt.Errorf("http api: %w", err)
	}

	if pgStore != nil && opts.purgeEvery > 0 {
		go purgeLoop(ctx, logger, pgStore, opts.purgeEvery, cfg.TwoFactor.FreshnessWindow)
	}

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) (workgate.Config, workgate.Environment, error) {
	var (
		cfg workgate.Config
		env workgate.Environment
		err error
	)
	if path != "" {
		cfg, env, err = workgate.LoadConfigFile(path)
		if err != nil {
			return workgate.Config{}, "", fmt.Errorf("config: %w", err)
		}
	} else {
		cfg, env = workgate.DefaultConfig(), workgate.Development
	}
	if len(cfg.Token.PrivateKey) == 0 {
		if key := os.Getenv("WORKGATE_SIGNING_KEY"); key != "" {
			cfg.Token.PrivateKey = []byte(key)
		}
	}
	return cfg, env, nil
}

// builtinRoles are the role ids the HR application ships with.
var builtinRoles = []struct {
	id   int64
	name string
}{
	{1, workgate.RoleAdmin},
	{2, workgate.RoleSuperAdmin},
	{3, workgate.RoleManager},
	{4, workgate.RoleHR},
	{5, workgate.RoleEmployee},
}

func migrate(ctx context.Context, store *pg.Store) error {
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	for _, r := range builtinRoles {
		if err := store.UpsertRole(ctx, r.id, r.name); err != nil {
			return fmt.Errorf("seed role %s: %w", r.name, err)
		}
	}
	return nil
}

func newMemoryStore() (*workgate.MemoryStore, error) {
	store := workgate.NewMemoryStore()
	for _, r := range builtinRoles {
		if err := store.AddRole(r.id, r.name); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func chainReady(a, b func(context.Context) error) func(context.Context) error {
	if a == nil {
		return b
	}
	return func(ctx context.Context) error {
		if err := a(ctx); err != nil {
			return err
		}
		return b(ctx)
	}
}

// purgeLoop deletes blacklist entries for expired tokens and two-factor rows
// older than any window that still reads them.
func purgeLoop(ctx context.Context, logger *slog.Logger, store *pg.Store, every, freshness time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeBlacklist(ctx, now)
			if err != nil {
				logger.Warn("purge blacklist failed", "error", err)
			} else if n > 0 {
				logger.Info("purged blacklist", "rows", n)
			}
			if err := store.PurgeTwoFactor(ctx, now.Add(-24*time.Hour-freshness)); err != nil {
				logger.Warn("purge two-factor rows failed", "error", err)
			}
		}
	}
}
