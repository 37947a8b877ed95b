package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrExpired is returned when a token is well-formed and correctly signed but past its exp.
	ErrExpired = errors.New("jwt: token expired")
	// ErrMalformed is returned for any other parse, signature or claim failure.
	ErrMalformed = errors.New("jwt: token invalid")
)

// Config defines signing keys and validation policy. TTLs are chosen per token by the caller.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the validation clock. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and parses session tokens. A Manager is immutable after NewManager
// and safe for concurrent use.
type Manager struct {
	config Config
}

// SessionClaims is the claim set carried by every session token. The registered jti
// (ID) identifies the session.
type SessionClaims struct {
	PrincipalID int64  `json:"pid"`
	Kind        string `json:"kind"`
	Role        string `json:"role,omitempty"`
	RoleID      int64  `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

// Session describes a token to be issued.
type Session struct {
	PrincipalID int64
	Kind        string
	Role        string
	RoleID      int64
	JTI         string
	IssuedAt    time.Time
	TTL         time.Duration
}

// ParseOptions tweaks a single parse.
type ParseOptions struct {
	// AllowExpired is consulted only for tokens whose sole defect is expiry. Returning
	// true accepts the token anyway.
	AllowExpired func(*SessionClaims) bool
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// Sign issues a token for s. The returned expiry is IssuedAt+TTL.
func (j *Manager) Sign(s Session) (string, time.Time, error) {
	if s.TTL <= 0 {
		return "", time.Time{}, errors.New("invalid TTL configuration")
	}
	if s.JTI == "" {
		return "", time.Time{}, errors.New("session jti is required")
	}
	issued := s.IssuedAt
	if issued.IsZero() {
		issued = j.config.Now()
	}
	expires := issued.Add(s.TTL)

	claims := SessionClaims{
		PrincipalID: s.PrincipalID,
		Kind:        s.Kind,
		Role:        s.Role,
		RoleID:      s.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.JTI,
			Subject:   fmt.Sprintf("%s:%d", s.Kind, s.PrincipalID),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(issued),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies the signature and registered claims of tokenStr.
//
// Expired tokens return ErrExpired; every other failure returns an error wrapping
// ErrMalformed. The returned claims are non-nil only on success.
func (j *Manager) Parse(tokenStr string, opts ParseOptions) (*SessionClaims, error) {
	claims, err := j.parse(tokenStr, false)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if opts.AllowExpired == nil {
		return nil, ErrExpired
	}

	// Signature was valid; re-check the remaining claims without the time checks.
	claims, err = j.parse(tokenStr, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if j.config.Issuer != "" && claims.Issuer != j.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrMalformed)
	}
	if j.config.Audience != "" && !containsAudience(claims.Audience, j.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrMalformed)
	}
	if !opts.AllowExpired(claims) {
		return nil, ErrExpired
	}
	return claims, nil
}

func (j *Manager) parse(tokenStr string, skipClaims bool) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
	}
	if skipClaims {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		if j.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(j.config.Leeway))
		}
		if j.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(j.config.Issuer))
		}
		if j.config.Audience != "" {
			options = append(options, jwt.WithAudience(j.config.Audience))
		}
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &SessionClaims{}, j.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" {
		return nil, errors.New("missing jti")
	}
	if claims.PrincipalID <= 0 || claims.Kind == "" {
		return nil, errors.New("missing principal claims")
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("manager is verify-only")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
