package workgate

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/workgate/internal/audit"
	"github.com/MrEthical07/workgate/internal/notify"
	"github.com/MrEthical07/workgate/internal/rate"
	"github.com/MrEthical07/workgate/jwt"
	"github.com/MrEthical07/workgate/password"
	"github.com/MrEthical07/workgate/routes"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use; configure it during
// initialization and call Build once.
type Builder struct {
	config Config

	store    Store
	sessions SessionBackend
	redis    redis.UniversalClient
	mailer   Mailer
	logger   *slog.Logger
	now      func() time.Time
	routes   *routes.Table

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithSessionStore moves jti tracking and the blacklist off the main Store.
func (b *Builder) WithSessionStore(sessions SessionBackend) *Builder {
	b.sessions = sessions
	return b
}

// WithRedis enables the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the outbound mail transport. Defaults to a LogMailer.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token issuance, expiry and two-factor windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRoutes replaces the embedded endpoint-to-area table.
func (b *Builder) WithRoutes(t *routes.Table) *Builder {
	b.routes = t
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "workgate")

	now := b.now
	if now == nil {
		now = time.Now
	}

	table := b.routes
	if table == nil {
		table = routes.Default()
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		jtis:     b.store,
		sessions: b.store,
		routes:   table,
		logger:   logger,
		now:      now,
		metrics:  NewMetrics(cfg.Metrics),
	}
	if b.sessions != nil {
		engine.jtis = b.sessions
		engine.sessions = b.sessions
	}
	engine.roles = NewRoleCatalog(b.store)

	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:           cfg.RateLimit.Prefix,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxAttempts:      cfg.RateLimit.MaxLoginAttempts,
			Window:           cfg.RateLimit.Window,
		})
	}

	pv, err := password.NewVerifier(password.Argon2Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	}, cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	engine.passwords = pv

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	mailer := b.mailer
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	engine.notifier = notify.New(notify.Config{
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		MaxRetries:     cfg.Notify.MaxRetries,
		InitialBackoff: cfg.Notify.InitialBackoff,
		MaxBackoff:     cfg.Notify.MaxBackoff,
		SendTimeout:    cfg.Notify.SendTimeout,
		PerSecond:      cfg.Notify.PerSecond,
		Burst:          cfg.Notify.Burst,
	}, mailer, logger)

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
