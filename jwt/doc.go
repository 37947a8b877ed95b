// Package jwt issues and parses workgate session tokens. A session token carries the
// principal id, its kind, its role and a unique jti; the jti is what the session guard
// compares against the principal's single active session.
package jwt
