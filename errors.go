package workgate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials means the password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalNotFound means no principal matched the identifier (and role, for admins).
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrUnverified means an admin account has not been approved.
	ErrUnverified = errors.New("access denied: not verified")
	// ErrTokenExpired means the token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenBlacklisted means the token's jti was revoked by logout.
	ErrTokenBlacklisted = errors.New("token blacklisted")
	// ErrSessionConflict means a newer login replaced this token's session.
	ErrSessionConflict = errors.New("session replaced by a newer login")
	// ErrForbidden means the authorization check failed.
	ErrForbidden = errors.New("forbidden")
	// ErrRouteNotFound means the resolved route has no record. It is a deny, never a 500.
	ErrRouteNotFound = errors.New("route not found")
	// ErrActionNotFound marks a refusal where no requested action name has a
	// record. Unknown names next to known ones are skipped.
	ErrActionNotFound = errors.New("action not found")
	// ErrTwoFactorRequired means a fresh two-factor verification is needed.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTooManyAttempts means the two-factor attempt budget is spent.
	ErrTooManyAttempts = errors.New("too many two-factor attempts")
	// ErrInvalidTwoFactorCode means the code did not match the pending one.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrLoginRateLimited means the login throttle refused the attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrInternal wraps persistence and infrastructure failures.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrConflict is returned by stores for uniqueness violations.
	ErrConflict = errors.New("conflict")
)

// DenyError is an authorization refusal with a human-readable reason.
type DenyError struct {
	Reason string
	Err    error
}

func (e *DenyError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *DenyError) Unwrap() error { return e.Err }

// errActionsUnknown is a Forbidden refusal that also matches ErrActionNotFound.
var errActionsUnknown = fmt.Errorf("%w (%w)", ErrForbidden, ErrActionNotFound)

func deny(err error, format string, args ...any) error {
	return &DenyError{Err: err, Reason: fmt.Sprintf(format, args...)}
}

// TwoFactorRequiredError carries the page the caller should be sent to.
type TwoFactorRequiredError struct {
	Redirect string
	// CodeSent is false when a still-valid code was already pending.
	CodeSent bool
}

func (e *TwoFactorRequiredError) Error() string { return ErrTwoFactorRequired.Error() }

func (e *TwoFactorRequiredError) Unwrap() error { return ErrTwoFactorRequired }

func internalErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// Machine-readable codes for deny responses and audit events.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodePrincipalNotFound  = "NOT_FOUND"
	CodeUnverified         = "UNVERIFIED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenMissing       = "TOKEN_MISSING"
	CodeTokenBlacklisted   = "TOKEN_BLACKLISTED"
	CodeSessionConflict    = "SESSION_CONFLICT"
	CodeForbidden          = "FORBIDDEN"
	CodeRouteNotFound      = "ROUTE_NOT_FOUND"
	CodeTwoFactorRequired  = "2FA_REQUIRED"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeInvalidCode        = "INVALID_2FA_CODE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrTwoFactorRequired, CodeTwoFactorRequired},
	{ErrTooManyAttempts, CodeTooManyAttempts},
	{ErrInvalidTwoFactorCode, CodeInvalidCode},
	{ErrTokenExpired, CodeTokenExpired},
	{ErrTokenBlacklisted, CodeTokenBlacklisted},
	{ErrSessionConflict, CodeSessionConflict},
	{ErrTokenInvalid, CodeTokenInvalid},
	{ErrRouteNotFound, CodeRouteNotFound},
	{ErrUnverified, CodeUnverified},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrPrincipalNotFound, CodePrincipalNotFound},
	{ErrLoginRateLimited, CodeRateLimited},
	{ErrInternal, CodeInternal},
}

// ErrorCode maps err to a stable code. Nil maps to "" and unknown errors to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
