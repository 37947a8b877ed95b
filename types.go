package workgate

import (
	"strings"
	"time"

	"github.com/MrEthical07/workgate/device"
)

// PrincipalKind separates the two disjoint principal tables.
type PrincipalKind string

const (
	KindEmployee PrincipalKind = "employee"
	KindAdmin    PrincipalKind = "admin"
)

// Valid reports whether k is one of the known kinds.
func (k PrincipalKind) Valid() bool {
	return k == KindEmployee || k == KindAdmin
}

// Role names. RoleEmployee keeps its historical capitalisation; it is stored that way.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleManager    = "manager"
	RoleHR         = "hr"
	RoleEmployee   = "Employee"
)

// Principal is a person who can authenticate.
//
// IsVerified is only meaningful for admins; employees are always treated as verified.
type Principal struct {
	ID           int64
	Kind         PrincipalKind
	Identifier   string
	Email        string
	PasswordHash string
	RoleID       int64
	Role         string
	IsVerified   bool
	CurrentJTI   string
}

// Verified applies the employee rule on top of the stored flag.
func (p Principal) Verified() bool {
	return p.Kind == KindEmployee || p.IsVerified
}

// AuthContext is the identity established by Verify for one request.
type AuthContext struct {
	PrincipalID int64         `json:"principal_id"`
	Kind        PrincipalKind `json:"kind"`
	Role        string        `json:"role"`
	RoleID      int64         `json:"role_id"`
	JTI         string        `json:"-"`
	IssuedAt    time.Time     `json:"issued_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// IsSuperAdmin reports whether every authorization and two-factor check is bypassed.
func (a AuthContext) IsSuperAdmin() bool {
	return a.Kind == KindAdmin && a.Role == RoleSuperAdmin
}

// Require selects ANY or ALL semantics for multi-action checks.
type Require int

const (
	RequireAny Require = iota
	RequireAll
)

func (r Require) String() string {
	if r == RequireAll {
		return "all"
	}
	return "any"
}

// ParseRequire accepts "any" and "all", case-insensitively. Anything else is RequireAny.
func ParseRequire(s string) Require {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return RequireAll
	}
	return RequireAny
}

// AuthorizeRequest describes one authorization check.
//
// Actions takes precedence over PayloadAction. A non-empty AllowedRoleIDs replaces
// the grant lookup with a role membership check.
type AuthorizeRequest struct {
	Endpoint       string
	RouteHint      string
	Actions        []string
	PayloadAction  string
	AllowedRoleIDs []int64
	Require        Require
}

// TwoFactorRecord is one issued one-time code.
type TwoFactorRecord struct {
	ID          string
	PrincipalID int64
	Kind        PrincipalKind
	Code        string
	Verified    bool
	CreatedAt   time.Time
	VerifiedAt  time.Time
}

// DeviceFingerprint identifies a client device for one principal.
type DeviceFingerprint = device.Fingerprint

// DeviceRecord is one (principal, fingerprint) row.
type DeviceRecord struct {
	ID          string
	PrincipalID int64
	Kind        PrincipalKind
	DeviceFingerprint
	LastSeen  time.Time
	Current   bool
	JTI       string
	IssuedAt  time.Time
	CreatedAt time.Time
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Context   AuthContext `json:"context"`
}
