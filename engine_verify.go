package workgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/workgate/jwt"
)

// Verify authenticates a session token for either principal kind.
//
// The token must be correctly signed and unexpired, its jti must not be
// blacklisted, and it must still be the principal's current jti. Store failures
// surface as ErrInternal.
func (e *Engine) Verify(ctx context.Context, token string) (AuthContext, error) {
	if e == nil {
		return AuthContext{}, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricVerifyLatency, start)

	token = strings.TrimSpace(token)
	if token == "" {
		e.metricInc(MetricVerifyInvalid)
		return AuthContext{}, ErrTokenInvalid
	}

	var opts jwt.ParseOptions
	if e.config.Token.SkipEmployeeExpiry {
		opts.AllowExpired = func(c *jwt.SessionClaims) bool {
			return c.Kind == string(KindEmployee)
		}
	}

	claims, err := e.tokens.Parse(token, opts)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			e.metricInc(MetricVerifyExpired)
			return AuthContext{}, ErrTokenExpired
		}
		e.metricInc(MetricVerifyInvalid)
		return AuthContext{}, ErrTokenInvalid
	}

	kind := PrincipalKind(claims.Kind)
	if !kind.Valid() || claims.ID == "" || claims.PrincipalID == 0 {
		e.metricInc(MetricVerifyInvalid)
		return AuthContext{}, ErrTokenInvalid
	}

	ac := AuthContext{
		PrincipalID: claims.PrincipalID,
		Kind:        kind,
		Role:        claims.Role,
		RoleID:      claims.RoleID,
		JTI:         claims.ID,
	}
	if claims.IssuedAt != nil {
		ac.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}

	blacklisted, err := e.sessions.IsBlacklisted(ctx, ac.JTI)
	if err != nil {
		return AuthContext{}, e.verifyInternal(ctx, ac, err)
	}
	if blacklisted {
		e.metricInc(MetricVerifyBlacklisted)
		e.emitAudit(ctx, auditEventVerifyFailure, false, ac, "", ErrTokenBlacklisted, nil)
		return AuthContext{}, ErrTokenBlacklisted
	}

	current, err := e.jtis.CurrentJTI(ctx, kind, ac.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricVerifyInvalid)
			return AuthContext{}, ErrTokenInvalid
		}
		return AuthContext{}, e.verifyInternal(ctx, ac, err)
	}
	if current != ac.JTI {
		e.metricInc(MetricSessionConflict)
		e.emitAudit(ctx, auditEventSessionConflict, false, ac, "", ErrSessionConflict, nil)
		return AuthContext{}, ErrSessionConflict
	}

	e.metricInc(MetricVerifySuccess)
	return ac, nil
}

func (e *Engine) verifyInternal(ctx context.Context, ac AuthContext, err error) error {
	e.metricInc(MetricInternalError)
	e.logger.ErrorContext(ctx, "session lookup failed", "kind", ac.Kind, "principal_id", ac.PrincipalID, "error", err)
	return internalErr(err)
}
