package workgate

import (
	"context"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventLogout                = "logout"
	auditEventVerifyFailure         = "verify_failure"
	auditEventSessionConflict       = "session_conflict"
	auditEventAuthorizeDeny         = "authorize_deny"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTwoFactorExceeded     = "two_factor_attempts_exceeded"
	auditEventTwoFactorResend       = "two_factor_resend"
	auditEventDeviceNew             = "device_new"
	auditEventPasswordUpgradeFailed = "password_upgrade_failed"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	ac AuthContext,
	route string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType:   eventType,
		PrincipalID: ac.PrincipalID,
		Kind:        string(ac.Kind),
		Role:        ac.Role,
		JTI:         ac.JTI,
		Route:       route,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}
