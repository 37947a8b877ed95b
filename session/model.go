package session

// Entry is one blacklisted token.
type Entry struct {
	JTI         string
	PrincipalID int64
	Kind        string
	// ExpiresAt and RevokedAt are unix seconds.
	ExpiresAt int64
	RevokedAt int64
}
