package workgate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/workgate/internal/ids"
)

type principalKey struct {
	kind PrincipalKind
	id   int64
}

type grantKey struct {
	adminID int64
	routeID int64
}

// MemoryStore is an in-process Store for tests and single-node demos. All state
// is lost on exit.
type MemoryStore struct {
	mu sync.RWMutex

	nextPrincipalID int64
	principals      map[principalKey]Principal
	identifiers     map[PrincipalKind]map[string]int64

	roles     map[int64]string
	routes    map[string]int64
	actions   map[string]int64
	grants    map[grantKey]map[int64]struct{}
	blacklist map[string]time.Time

	codes    map[principalKey][]TwoFactorRecord
	failures map[principalKey][]time.Time
	devices  map[principalKey][]DeviceRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals:  make(map[principalKey]Principal),
		identifiers: make(map[PrincipalKind]map[string]int64),
		roles:       make(map[int64]string),
		routes:      make(map[string]int64),
		actions:     make(map[string]int64),
		grants:      make(map[grantKey]map[int64]struct{}),
		blacklist:   make(map[string]time.Time),
		codes:       make(map[principalKey][]TwoFactorRecord),
		failures:    make(map[principalKey][]time.Time),
		devices:     make(map[principalKey][]DeviceRecord),
	}
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

/*
====================================
SEEDING
====================================
*/

// AddPrincipal stores p and returns its id. A zero ID is assigned.
func (s *MemoryStore) AddPrincipal(p Principal) (int64, error) {
	if !p.Kind.Valid() {
		return 0, fmt.Errorf("invalid principal kind %q", p.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ident := normalizeIdentifier(p.Identifier)
	if _, ok := s.identifiers[p.Kind][ident]; ok {
		return 0, fmt.Errorf("%w: %s %q exists", ErrConflict, p.Kind, p.Identifier)
	}
	if p.ID == 0 {
		s.nextPrincipalID++
		p.ID = s.nextPrincipalID
	} else if p.ID > s.nextPrincipalID {
		s.nextPrincipalID = p.ID
	}
	if _, ok := s.principals[principalKey{p.Kind, p.ID}]; ok {
		return 0, fmt.Errorf("%w: %s id %d exists", ErrConflict, p.Kind, p.ID)
	}
	if p.Role == "" && p.RoleID != 0 {
		p.Role = s.roles[p.RoleID]
	}

	s.principals[principalKey{p.Kind, p.ID}] = p
	if s.identifiers[p.Kind] == nil {
		s.identifiers[p.Kind] = make(map[string]int64)
	}
	s.identifiers[p.Kind][ident] = p.ID
	return p.ID, nil
}

// SetVerified flips an admin's approval flag.
func (s *MemoryStore) SetVerified(kind PrincipalKind, id int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.IsVerified = verified
	s.principals[principalKey{kind, id}] = p
	return nil
}

// AddRole binds a role name to id. Rebinding either side is a conflict.
func (s *MemoryStore) AddRole(id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.roles[id]; ok && prev != name {
		return fmt.Errorf("%w: role %d is %q", ErrConflict, id, prev)
	}
	for rid, n := range s.roles {
		if n == name && rid != id {
			return fmt.Errorf("%w: role %q is %d", ErrConflict, name, rid)
		}
	}
	s.roles[id] = name
	return nil
}

// AddRoute returns the id for a route, creating it if needed.
func (s *MemoryStore) AddRoute(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensureID(s.routes, name)
}

// AddAction returns the id for an action, creating it if needed.
func (s *MemoryStore) AddAction(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensureID(s.actions, name)
}

// Grant allows adminID to perform actions on route, creating both as needed.
func (s *MemoryStore) Grant(adminID int64, route string, actions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{adminID: adminID, routeID: ensureID(s.routes, route)}
	set := s.grants[key]
	if set == nil {
		set = make(map[int64]struct{})
		s.grants[key] = set
	}
	for _, a := range actions {
		set[ensureID(s.actions, a)] = struct{}{}
	}
}

func ensureID(m map[string]int64, name string) int64 {
	if id, ok := m[name]; ok {
		return id
	}
	id := int64(len(m) + 1)
	m[name] = id
	return id
}

// Devices returns a copy of the device rows for a principal.
func (s *MemoryStore) Devices(kind PrincipalKind, id int64) []DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeviceRecord(nil), s.devices[principalKey{kind, id}]...)
}

/*
====================================
PRINCIPALS
====================================
*/

func (s *MemoryStore) FindPrincipal(_ context.Context, kind PrincipalKind, identifier string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identifiers[kind][normalizeIdentifier(identifier)]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return s.principals[principalKey{kind, id}], nil
}

func (s *MemoryStore) FindPrincipalByID(_ context.Context, kind PrincipalKind, id int64) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, kind PrincipalKind, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	s.principals[principalKey{kind, id}] = p
	return nil
}

func (s *MemoryStore) CurrentJTI(_ context.Context, kind PrincipalKind, id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return "", ErrPrincipalNotFound
	}
	return p.CurrentJTI, nil
}

func (s *MemoryStore) SetCurrentJTI(_ context.Context, kind PrincipalKind, id int64, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.CurrentJTI = jti
	s.principals[principalKey{kind, id}] = p
	return nil
}

func (s *MemoryStore) RotateJTI(_ context.Context, kind PrincipalKind, id int64, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalKey{kind, id}]
	if !ok {
		return false, ErrPrincipalNotFound
	}
	if p.CurrentJTI != expected {
		return false, nil
	}
	p.CurrentJTI = next
	s.principals[principalKey{kind, id}] = p
	return true, nil
}

/*
====================================
SESSIONS
====================================
*/

func (s *MemoryStore) Blacklist(_ context.Context, jti string, _ int64, _ PrincipalKind, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[jti] = expiresAt
	return nil
}

func (s *MemoryStore) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[jti]
	return ok, nil
}

/*
====================================
ROLES AND GRANTS
====================================
*/

func (s *MemoryStore) RoleName(_ context.Context, id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.roles[id]
	if !ok {
		return "", fmt.Errorf("role %d not found", id)
	}
	return name, nil
}

func (s *MemoryStore) RoleID(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, n := range s.roles {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("role %q not found", name)
}

func (s *MemoryStore) ListRoles(context.Context) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(s.roles))
	for id, name := range s.roles {
		out[id] = name
	}
	return out, nil
}

func (s *MemoryStore) RouteID(_ context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.routes[name]
	return id, ok, nil
}

func (s *MemoryStore) ActionIDs(_ context.Context, names []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(names))
	for _, name := range names {
		if id, ok := s.actions[name]; ok {
			out[name] = id
		}
	}
	return out, nil
}

func (s *MemoryStore) GrantedActions(_ context.Context, adminID, routeID int64) (map[int64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]struct{})
	for id := range s.grants[grantKey{adminID: adminID, routeID: routeID}] {
		out[id] = struct{}{}
	}
	return out, nil
}

/*
====================================
TWO-FACTOR
====================================
*/

func (s *MemoryStore) InsertCode(_ context.Context, rec TwoFactorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.At(rec.CreatedAt)
	}
	key := principalKey{rec.Kind, rec.PrincipalID}
	s.codes[key] = append(s.codes[key], rec)
	sort.SliceStable(s.codes[key], func(i, j int) bool {
		return s.codes[key][i].CreatedAt.Before(s.codes[key][j].CreatedAt)
	})
	return nil
}

func (s *MemoryStore) LatestRecord(_ context.Context, kind PrincipalKind, principalID int64) (*TwoFactorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.codes[principalKey{kind, principalID}]
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (s *MemoryStore) LatestUnverified(_ context.Context, kind PrincipalKind, principalID int64) (*TwoFactorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.codes[principalKey{kind, principalID}]
	if len(recs) == 0 || recs[len(recs)-1].Verified {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, recordID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, recs := range s.codes {
		for i := range recs {
			if recs[i].ID == recordID {
				recs[i].Verified = true
				recs[i].VerifiedAt = at
				s.codes[key] = recs
				return nil
			}
		}
	}
	return fmt.Errorf("two-factor record %s not found", recordID)
}

func (s *MemoryStore) RecordFailedAttempt(_ context.Context, kind PrincipalKind, principalID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := principalKey{kind, principalID}
	s.failures[key] = append(s.failures[key], at)
	return nil
}

func (s *MemoryStore) CountRecentFailures(_ context.Context, kind PrincipalKind, principalID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, at := range s.failures[principalKey{kind, principalID}] {
		if at.After(since) {
			n++
		}
	}
	return n, nil
}

/*
====================================
DEVICES
====================================
*/

func (s *MemoryStore) UpsertDevice(_ context.Context, rec DeviceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := principalKey{rec.Kind, rec.PrincipalID}
	devices := s.devices[key]
	fpKey := rec.DeviceFingerprint.Key()

	isNew := true
	for i := range devices {
		if devices[i].DeviceFingerprint.Key() == fpKey {
			isNew = false
			devices[i].LastSeen = rec.LastSeen
			devices[i].Current = true
			devices[i].JTI = rec.JTI
			devices[i].IssuedAt = rec.IssuedAt
			devices[i].BrowserVersion = rec.BrowserVersion
			continue
		}
		devices[i].Current = false
	}
	if isNew {
		if rec.ID == "" {
			rec.ID = ids.New()
		}
		rec.Current = true
		devices = append(devices, rec)
	}
	s.devices[key] = devices
	return isNew, nil
}
