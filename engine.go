package workgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/workgate/internal/audit"
	"github.com/MrEthical07/workgate/internal/notify"
	"github.com/MrEthical07/workgate/internal/rate"
	"github.com/MrEthical07/workgate/jwt"
	"github.com/MrEthical07/workgate/password"
	"github.com/MrEthical07/workgate/routes"
	"github.com/google/uuid"
)

// Engine is the permission and session core. It is immutable after Build and
// safe for concurrent use.
type Engine struct {
	config    Config
	store     Store
	jtis      JTIStore
	sessions  SessionStore
	roles     *RoleCatalog
	routes    *routes.Table
	limiter   *rate.Limiter
	notifier  *notify.Dispatcher
	audit     *audit.Dispatcher
	metrics   *Metrics
	passwords *password.Verifier
	tokens    *jwt.Manager
	logger    *slog.Logger
	now       func() time.Time
}

// Close stops the mail workers and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notifier != nil {
		e.notifier.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// Routes exposes the endpoint table used to resolve authorization routes.
func (e *Engine) Routes() *routes.Table {
	if e == nil {
		return nil
	}
	return e.routes
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MailStats reports the outbound mail queue counters.
func (e *Engine) MailStats() notify.Stats {
	if e == nil || e.notifier == nil {
		return notify.Stats{}
	}
	return e.notifier.Stats()
}

// MetricsSnapshot copies the current counters and latency histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	e.logger.WarnContext(ctx, msg, args...)
}

// RoleIDs resolves role names to ids, for building AllowedRoleIDs lists.
func (e *Engine) RoleIDs(ctx context.Context, names ...string) ([]int64, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := e.roles.ID(ctx, name)
		if err != nil {
			return nil, internalErr(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Login checks credentials and issues a session token. The new jti replaces any
// previous one for the principal, so older tokens fail Verify with ErrSessionConflict.
//
// role restricts admin logins to principals holding that role name; pass "" to skip.
func (e *Engine) Login(ctx context.Context, kind PrincipalKind, identifier, secret, role string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !kind.Valid() {
		return nil, ErrPrincipalNotFound
	}

	ip := clientIPFromContext(ctx)
	failure := func(err error) (*LoginResult, error) {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrInvalidCredentials) {
			if ferr := e.limiter.Fail(ctx, string(kind), identifier, ip); ferr != nil && !errors.Is(ferr, rate.ErrRateLimited) {
				e.warn(ctx, "login throttle update failed", "error", ferr)
			}
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, AuthContext{Kind: kind}, "", err, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, err
	}

	if err := e.limiter.Check(ctx, string(kind), identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, AuthContext{Kind: kind}, "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
			return nil, ErrLoginRateLimited
		}
		// Throttle backend outages do not block logins.
		e.warn(ctx, "login throttle unavailable", "error", err)
	}

	p, err := e.store.FindPrincipal(ctx, kind, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return failure(ErrPrincipalNotFound)
		}
		return failure(internalErr(err))
	}

	if p.Role == "" && p.RoleID != 0 {
		name, err := e.roles.Name(ctx, p.RoleID)
		if err != nil {
			return failure(internalErr(err))
		}
		p.Role = name
	}
	if role != "" && p.Role != role {
		return failure(ErrPrincipalNotFound)
	}
	if !p.Verified() {
		return failure(ErrUnverified)
	}

	ok, err := e.passwords.Verify(secret, p.PasswordHash)
	if err != nil {
		e.warn(ctx, "stored password hash unusable", "kind", kind, "principal_id", p.ID, "error", err)
	}
	if !ok {
		return failure(ErrInvalidCredentials)
	}

	if err := e.limiter.Reset(ctx, string(kind), identifier); err != nil {
		e.warn(ctx, "login throttle reset failed", "error", err)
	}
	e.upgradePassword(ctx, p, secret)

	res, err := e.issueSession(ctx, p)
	if err != nil {
		return failure(err)
	}

	if e.config.Device.TrackOnLogin {
		_, _ = e.TrackDevice(ctx, res.Context)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.Context, "", nil, nil)
	return res, nil
}

// IssueToken is Login under the name used by callers that think in tokens.
func (e *Engine) IssueToken(ctx context.Context, kind PrincipalKind, identifier, secret, role string) (*LoginResult, error) {
	return e.Login(ctx, kind, identifier, secret, role)
}

func (e *Engine) issueSession(ctx context.Context, p Principal) (*LoginResult, error) {
	ttl := e.config.Token.EmployeeTTL
	if p.Kind == KindAdmin {
		ttl = e.config.Token.AdminTTL
	}

	jti := uuid.NewString()
	issuedAt := e.now()
	token, expiresAt, err := e.tokens.Sign(jwt.Session{
		PrincipalID: p.ID,
		Kind:        string(p.Kind),
		Role:        p.Role,
		RoleID:      p.RoleID,
		JTI:         jti,
		IssuedAt:    issuedAt,
		TTL:         ttl,
	})
	if err != nil {
		return nil, internalErr(err)
	}

	if err := e.jtis.SetCurrentJTI(ctx, p.Kind, p.ID, jti); err != nil {
		return nil, internalErr(err)
	}
	e.metricInc(MetricSessionCreated)

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Context: AuthContext{
			PrincipalID: p.ID,
			Kind:        p.Kind,
			Role:        p.Role,
			RoleID:      p.RoleID,
			JTI:         jti,
			IssuedAt:    issuedAt.UTC().Truncate(time.Second),
			ExpiresAt:   expiresAt,
		},
	}, nil
}

func (e *Engine) upgradePassword(ctx context.Context, p Principal, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwords.NeedsUpgrade(p.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwords.Hash(secret)
	if err == nil {
		err = e.store.UpdatePasswordHash(ctx, p.Kind, p.ID, hash)
	}
	if err != nil {
		e.warn(ctx, "password hash upgrade failed", "kind", p.Kind, "principal_id", p.ID, "error", err)
		e.emitAudit(ctx, auditEventPasswordUpgradeFailed, false, AuthContext{PrincipalID: p.ID, Kind: p.Kind}, "", internalErr(err), nil)
	}
}

// Logout blacklists the token's jti until it expires and clears it as the
// principal's current session. A newer session is left untouched.
func (e *Engine) Logout(ctx context.Context, ac AuthContext) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if ac.JTI == "" {
		return ErrTokenInvalid
	}

	if err := e.sessions.Blacklist(ctx, ac.JTI, ac.PrincipalID, ac.Kind, ac.ExpiresAt); err != nil {
		return internalErr(err)
	}
	if _, err := e.jtis.RotateJTI(ctx, ac.Kind, ac.PrincipalID, ac.JTI, ""); err != nil {
		return internalErr(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, ac, "", nil, nil)
	return nil
}
