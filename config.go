package workgate

import (
	"errors"
	"strings"
	"time"
)

// Config holds every Engine setting. Build copies it; later mutation of the
// caller's value has no effect.
type Config struct {
	Token     TokenConfig     `yaml:"token"`
	Password  PasswordConfig  `yaml:"password"`
	TwoFactor TwoFactorConfig `yaml:"two_factor"`
	Device    DeviceConfig    `yaml:"device"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Transport TransportConfig `yaml:"transport"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls session token signing and lifetime.
type TokenConfig struct {
	EmployeeTTL   time.Duration `yaml:"employee_ttl"`
	AdminTTL      time.Duration `yaml:"admin_ttl"`
	SigningMethod string        `yaml:"signing_method"` // "hs256" (default) or "ed25519"
	PrivateKey    []byte        `yaml:"-"`
	PublicKey     []byte        `yaml:"-"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
	// SkipEmployeeExpiry accepts expired employee tokens whose jti is still current.
	SkipEmployeeExpiry bool `yaml:"skip_employee_expiry"`
}

// PasswordConfig holds Argon2id parameters for new hashes and the bcrypt cost used
// when verifying legacy ones.
type PasswordConfig struct {
	Memory         uint32 `yaml:"memory"`
	Time           uint32 `yaml:"time"`
	Parallelism    uint8  `yaml:"parallelism"`
	SaltLength     uint32 `yaml:"salt_length"`
	KeyLength      uint32 `yaml:"key_length"`
	BcryptCost     int    `yaml:"bcrypt_cost"`
	UpgradeOnLogin bool   `yaml:"upgrade_on_login"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls the emailed one-time code gate.
type TwoFactorConfig struct {
	Enabled bool `yaml:"enabled"`
	// BypassRoutes skip the gate for the admin role. super_admin always bypasses.
	BypassRoutes    []string      `yaml:"bypass_routes"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	// CodeTTL is how long a pending code suppresses issuing another one.
	CodeTTL       time.Duration `yaml:"code_ttl"`
	CodeDigits    int           `yaml:"code_digits"`
	MaxAttempts   int           `yaml:"max_attempts"`
	AttemptWindow time.Duration `yaml:"attempt_window"`
	// ThrottleResend applies the attempt budget to resends as well.
	ThrottleResend bool   `yaml:"throttle_resend"`
	EmailSubject   string `yaml:"email_subject"`
}

// DeviceConfig controls device tracking.
type DeviceConfig struct {
	TrackOnLogin   bool   `yaml:"track_on_login"`
	AlertNewDevice bool   `yaml:"alert_new_device"`
	AlertSubject   string `yaml:"alert_subject"`
}

// RateLimitConfig controls the Redis login throttle. It is inert without a Redis client.
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Prefix           string        `yaml:"prefix"`
	EnableIPThrottle bool          `yaml:"enable_ip_throttle"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	Window           time.Duration `yaml:"window"`
}

// NotifyConfig tunes the outbound mail worker pool.
type NotifyConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	PerSecond      float64       `yaml:"per_second"`
	Burst          int           `yaml:"burst"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// TransportConfig holds the HTTP-facing names and redirect targets.
type TransportConfig struct {
	CookieName    string `yaml:"cookie_name"`
	LoginURL      string `yaml:"login_url"`
	AdminLoginURL string `yaml:"admin_login_url"`
	TwoFactorURL  string `yaml:"two_factor_url"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			EmployeeTTL:   8 * time.Hour,
			AdminTTL:      7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "workgate",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     10,
			UpgradeOnLogin: false,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:         true,
			BypassRoutes:    []string{"dashboard"},
			FreshnessWindow: 10 * time.Minute,
			CodeTTL:         5 * time.Minute,
			CodeDigits:      6,
			MaxAttempts:     5,
			AttemptWindow:   5 * time.Minute,
			ThrottleResend:  false,
			EmailSubject:    "Your verification code",
		},
		Device: DeviceConfig{
			TrackOnLogin:   true,
			AlertNewDevice: true,
			AlertSubject:   "New device sign-in",
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			Prefix:           "wg",
			EnableIPThrottle: false,
			MaxLoginAttempts: 10,
			Window:           15 * time.Minute,
		},
		Notify: NotifyConfig{
			Workers:        2,
			QueueSize:      256,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			SendTimeout:    10 * time.Second,
			PerSecond:      5,
			Burst:          5,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Transport: TransportConfig{
			CookieName:    "Authorization",
			LoginURL:      "/login",
			AdminLoginURL: "/admin/login",
			TwoFactorURL:  "/2fa",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.TwoFactor.BypassRoutes != nil {
		out.TwoFactor.BypassRoutes = append([]string(nil), cfg.TwoFactor.BypassRoutes...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// Token
	if c.Token.EmployeeTTL <= 0 {
		return errors.New("Token EmployeeTTL must be > 0")
	}
	if c.Token.AdminTTL <= 0 {
		return errors.New("Token AdminTTL must be > 0")
	}
	switch strings.ToLower(c.Token.SigningMethod) {
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("Token hs256 key must be at least 256 bits")
		}
	case "ed25519":
		if len(c.Token.PublicKey) == 0 {
			return errors.New("Token ed25519 requires a public key")
		}
	default:
		return errors.New("Token SigningMethod must be hs256 or ed25519")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Two-factor
	if c.TwoFactor.Enabled {
		if c.TwoFactor.FreshnessWindow <= 0 {
			return errors.New("TwoFactor FreshnessWindow must be > 0")
		}
		if c.TwoFactor.CodeTTL < 0 {
			return errors.New("TwoFactor CodeTTL must be >= 0")
		}
		if c.TwoFactor.CodeDigits < 6 || c.TwoFactor.CodeDigits > 10 {
			return errors.New("TwoFactor CodeDigits must be between 6 and 10")
		}
		if c.TwoFactor.MaxAttempts <= 0 {
			return errors.New("TwoFactor MaxAttempts must be > 0")
		}
		if c.TwoFactor.AttemptWindow <= 0 {
			return errors.New("TwoFactor AttemptWindow must be > 0")
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Notify.MaxRetries < 0 {
		return errors.New("Notify MaxRetries must be >= 0")
	}

	if strings.TrimSpace(c.Transport.CookieName) == "" {
		return errors.New("Transport CookieName is required")
	}
	return nil
}
