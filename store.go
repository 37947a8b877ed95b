package workgate

import (
	"context"
	"time"
)

// PrincipalStore reads principals and owns the single current jti per principal.
type PrincipalStore interface {
	// FindPrincipal looks up by login identifier. Missing principals return ErrPrincipalNotFound.
	FindPrincipal(ctx context.Context, kind PrincipalKind, identifier string) (Principal, error)
	FindPrincipalByID(ctx context.Context, kind PrincipalKind, id int64) (Principal, error)
	// UpdatePasswordHash replaces a stored hash after a successful login upgrade.
	UpdatePasswordHash(ctx context.Context, kind PrincipalKind, id int64, hash string) error
	JTIStore
}

// JTIStore tracks the one active token id per principal.
type JTIStore interface {
	// CurrentJTI returns "" when no session is active.
	CurrentJTI(ctx context.Context, kind PrincipalKind, id int64) (string, error)
	// SetCurrentJTI overwrites unconditionally, invalidating any older session.
	SetCurrentJTI(ctx context.Context, kind PrincipalKind, id int64, jti string) error
	// RotateJTI replaces expected with next atomically and reports whether it did.
	RotateJTI(ctx context.Context, kind PrincipalKind, id int64, expected, next string) (bool, error)
}

// SessionBackend is a store that can take over both jti tracking and the
// blacklist, such as the Redis store in package session.
type SessionBackend interface {
	JTIStore
	SessionStore
}

// SessionStore is the logout blacklist.
type SessionStore interface {
	Blacklist(ctx context.Context, jti string, principalID int64, kind PrincipalKind, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// RoleStore resolves role names and ids.
type RoleStore interface {
	RoleName(ctx context.Context, id int64) (string, error)
	RoleID(ctx context.Context, name string) (int64, error)
	ListRoles(ctx context.Context) (map[int64]string, error)
}

// GrantStore holds (admin, route, action) grants.
type GrantStore interface {
	RouteID(ctx context.Context, name string) (int64, bool, error)
	// ActionIDs resolves names; names without a record are absent from the result.
	ActionIDs(ctx context.Context, names []string) (map[string]int64, error)
	GrantedActions(ctx context.Context, adminID, routeID int64) (map[int64]struct{}, error)
}

// TwoFactorStore persists one-time codes and failed attempts.
type TwoFactorStore interface {
	InsertCode(ctx context.Context, rec TwoFactorRecord) error
	// LatestRecord returns nil when the principal has no record.
	LatestRecord(ctx context.Context, kind PrincipalKind, principalID int64) (*TwoFactorRecord, error)
	// LatestUnverified returns the newest record while it is unverified, else nil.
	// Codes superseded by a newer record are never returned.
	LatestUnverified(ctx context.Context, kind PrincipalKind, principalID int64) (*TwoFactorRecord, error)
	MarkVerified(ctx context.Context, recordID string, at time.Time) error
	RecordFailedAttempt(ctx context.Context, kind PrincipalKind, principalID int64, at time.Time) error
	CountRecentFailures(ctx context.Context, kind PrincipalKind, principalID int64, since time.Time) (int, error)
}

// DeviceStore upserts device rows.
type DeviceStore interface {
	// UpsertDevice inserts a new row or refreshes last_seen on the matching one, marks
	// it current, and reports whether it was inserted.
	UpsertDevice(ctx context.Context, rec DeviceRecord) (bool, error)
}

// Store aggregates every persistence concern the Engine consumes.
type Store interface {
	PrincipalStore
	SessionStore
	RoleStore
	GrantStore
	TwoFactorStore
	DeviceStore
}
