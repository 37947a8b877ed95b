package workgate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrEthical07/workgate/internal"
)

// RequireFreshTwoFactor passes when ac verified an emailed code within the
// freshness window. Otherwise it makes sure a code is pending, sending a new one
// only when no unexpired code is outstanding, and returns a *TwoFactorRequiredError.
//
// super_admin always passes. The admin role passes on the configured bypass routes.
func (e *Engine) RequireFreshTwoFactor(ctx context.Context, ac AuthContext, route string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	cfg := e.config.TwoFactor
	if !cfg.Enabled || ac.IsSuperAdmin() {
		return nil
	}
	if ac.Kind == KindAdmin && ac.Role == RoleAdmin && slices.Contains(cfg.BypassRoutes, route) {
		return nil
	}

	now := e.now()
	latest, err := e.store.LatestRecord(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	if latest != nil && latest.Verified && now.Sub(latest.VerifiedAt) < cfg.FreshnessWindow {
		return nil
	}

	required := &TwoFactorRequiredError{Redirect: e.config.Transport.TwoFactorURL}

	pending, err := e.store.LatestUnverified(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	if pending == nil || now.Sub(pending.CreatedAt) >= cfg.CodeTTL {
		if err := e.sendCode(ctx, ac); err != nil {
			return err
		}
		required.CodeSent = true
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, false, ac, route, nil, func() map[string]string {
		return map[string]string{"code_sent": fmt.Sprint(required.CodeSent)}
	})
	return required
}

// VerifyTwoFactor checks code against the latest pending code. Once MaxAttempts
// failures fall inside AttemptWindow every submission is refused, even a correct one.
func (e *Engine) VerifyTwoFactor(ctx context.Context, ac AuthContext, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.checkAttempts(ctx, ac); err != nil {
		return err
	}

	now := e.now()
	pending, err := e.store.LatestUnverified(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}

	if pending == nil || !internal.EqualCode(strings.TrimSpace(code), pending.Code) {
		if err := e.store.RecordFailedAttempt(ctx, ac.Kind, ac.PrincipalID, now); err != nil {
			return e.twoFactorInternal(ctx, ac, err)
		}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, ac, "", ErrInvalidTwoFactorCode, func() map[string]string {
			return map[string]string{"pending": fmt.Sprint(pending != nil)}
		})
		return ErrInvalidTwoFactorCode
	}

	if err := e.store.MarkVerified(ctx, pending.ID, now); err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, ac, "", nil, nil)
	return nil
}

// ResendTwoFactor issues and emails a new code. The attempt budget applies only
// when TwoFactor.ThrottleResend is set.
func (e *Engine) ResendTwoFactor(ctx context.Context, ac AuthContext) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.config.TwoFactor.ThrottleResend {
		if err := e.checkAttempts(ctx, ac); err != nil {
			return err
		}
	}
	if err := e.sendCode(ctx, ac); err != nil {
		return err
	}
	e.metricInc(MetricTwoFactorResend)
	e.emitAudit(ctx, auditEventTwoFactorResend, true, ac, "", nil, nil)
	return nil
}

func (e *Engine) checkAttempts(ctx context.Context, ac AuthContext) error {
	cfg := e.config.TwoFactor
	since := e.now().Add(-cfg.AttemptWindow)
	failures, err := e.store.CountRecentFailures(ctx, ac.Kind, ac.PrincipalID, since)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	if failures >= cfg.MaxAttempts {
		e.metricInc(MetricTwoFactorAttemptsExceeded)
		e.emitAudit(ctx, auditEventTwoFactorExceeded, false, ac, "", ErrTooManyAttempts, func() map[string]string {
			return map[string]string{"failures": fmt.Sprint(failures)}
		})
		return ErrTooManyAttempts
	}
	return nil
}

// sendCode stores a fresh code and mails it. A mail failure is logged and the
// code still counts as sent.
func (e *Engine) sendCode(ctx context.Context, ac AuthContext) error {
	p, err := e.store.FindPrincipalByID(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}

	code, err := internal.NewOTP(e.config.TwoFactor.CodeDigits)
	if err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	if err := e.store.InsertCode(ctx, TwoFactorRecord{
		PrincipalID: ac.PrincipalID,
		Kind:        ac.Kind,
		Code:        code,
		CreatedAt:   e.now(),
	}); err != nil {
		return e.twoFactorInternal(ctx, ac, err)
	}
	e.metricInc(MetricTwoFactorCodeSent)

	err = e.notifier.Send(ctx, Mail{
		Kind:    MailTwoFactorCode,
		To:      p.Email,
		Subject: e.config.TwoFactor.EmailSubject,
		Body:    fmt.Sprintf("Your verification code is %s. It is valid for a single use.", code),
	})
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.warn(ctx, "two-factor mail failed", "kind", ac.Kind, "principal_id", ac.PrincipalID, "error", err)
	}
	return nil
}

func (e *Engine) twoFactorInternal(ctx context.Context, ac AuthContext, err error) error {
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	e.metricInc(MetricInternalError)
	e.logger.ErrorContext(ctx, "two-factor store failed", "kind", ac.Kind, "principal_id", ac.PrincipalID, "error", err)
	return internalErr(err)
}
