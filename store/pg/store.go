// Package pg is the PostgreSQL implementation of workgate.Store.
package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/workgate"
	"github.com/MrEthical07/workgate/internal/ids"
)

const pgErrUniqueViolation = "23505"

//go:embed schema.sql
var schemaSQL string

// Store keeps principals, grants, codes and devices in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ workgate.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// principalQueries are the statements for one principal table. Table names
// come from a closed set, never from input.
type principalQueries struct {
	byIdentifier string
	byID         string
	updateHash   string
	currentJTI   string
	setJTI       string
	rotateJTI    string
	insert       string
}

func buildQueries(table, verified string) principalQueries {
	cols := fmt.Sprintf(`p.id, p.identifier, p.email, p.password_hash, coalesce(p.role_id, 0), coalesce(r.name, ''), %s, coalesce(p.current_jti, '')`, verified)
	from := fmt.Sprintf(`from %s p left join roles r on r.id = p.role_id`, table)
	return principalQueries{
		byIdentifier: fmt.Sprintf(`select %s %s where lower(p.identifier) = lower($1)`, cols, from),
		byID:         fmt.Sprintf(`select %s %s where p.id = $1`, cols, from),
		updateHash:   fmt.Sprintf(`update %s set password_hash = $2 where id = $1`, table),
		currentJTI:   fmt.Sprintf(`select coalesce(current_jti, '') from %s where id = $1`, table),
		setJTI:       fmt.Sprintf(`update %s set current_jti = nullif($2, '') where id = $1`, table),
		rotateJTI:    fmt.Sprintf(`update %s set current_jti = nullif($3, '') where id = $1 and coalesce(current_jti, '') = $2`, table),
	}
}

var queries = map[workgate.PrincipalKind]principalQueries{
	workgate.KindEmployee: func() principalQueries {
		q := buildQueries("employees", "true")
		q.insert = `insert into employees (identifier, email, password_hash, role_id) values ($1, $2, $3, nullif($4, 0)) returning id`
		return q
	}(),
	workgate.KindAdmin: func() principalQueries {
		q := buildQueries("admins", "p.is_verified")
		q.insert = `insert into admins (identifier, email, password_hash, role_id, is_verified) values ($1, $2, $3, nullif($4, 0), $5) returning id`
		return q
	}(),
}

func queriesFor(kind workgate.PrincipalKind) (principalQueries, error) {
	q, ok := queries[kind]
	if !ok {
		return principalQueries{}, fmt.Errorf("unknown principal kind %q", kind)
	}
	return q, nil
}

func (s *Store) scanPrincipal(row *sql.Row, kind workgate.PrincipalKind) (workgate.Principal, error) {
	p := workgate.Principal{Kind: kind}
	err := row.Scan(&p.ID, &p.Identifier, &p.Email, &p.PasswordHash, &p.RoleID, &p.Role, &p.IsVerified, &p.CurrentJTI)
	if errors.Is(err, sql.ErrNoRows) {
		return workgate.Principal{}, workgate.ErrPrincipalNotFound
	}
	if err != nil {
		return workgate.Principal{}, err
	}
	return p, nil
}

func (s *Store) FindPrincipal(ctx context.Context, kind workgate.PrincipalKind, identifier string) (workgate.Principal, error) {
	q, err := queriesFor(kind)
	if err != nil {
		return workgate.Principal{}, workgate.ErrPrincipalNotFound
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return workgate.Principal{}, workgate.ErrPrincipalNotFound
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, q.byIdentifier, identifier), kind)
}

func (s *Store) FindPrincipalByID(ctx context.Context, kind workgate.PrincipalKind, id int64) (workgate.Principal, error) {
	q, err := queriesFor(kind)
	if err != nil {
		return workgate.Principal{}, workgate.ErrPrincipalNotFound
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, q.byID, id), kind)
}

// CreatePrincipal inserts a principal and returns its id. Duplicate
// identifiers return workgate.ErrConflict.
func (s *Store) CreatePrincipal(ctx context.Context, p workgate.Principal) (int64, error) {
	q, err := queriesFor(p.Kind)
	if err != nil {
		return 0, err
	}
	args := []any{strings.TrimSpace(p.Identifier), p.Email, p.PasswordHash, p.RoleID}
	if p.Kind == workgate.KindAdmin {
		args = append(args, p.IsVerified)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, q.insert, args...).Scan(&id); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return 0, workgate.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, kind workgate.PrincipalKind, id int64, hash string) error {
	q, err := queriesFor(kind)
	if err != nil {
		return err
	}
	return expectOne(s.db.ExecContext(ctx, q.updateHash, id, hash))
}

func (s *Store) CurrentJTI(ctx context.Context, kind workgate.PrincipalKind, id int64) (string, error) {
	q, err := queriesFor(kind)
	if err != nil {
		return "", workgate.ErrPrincipalNotFound
	}
	var jti string
	err = s.db.QueryRowContext(ctx, q.currentJTI, id).Scan(&jti)
	if errors.Is(err, sql.ErrNoRows) {
		return "", workgate.ErrPrincipalNotFound
	}
	return jti, err
}

func (s *Store) SetCurrentJTI(ctx context.Context, kind workgate.PrincipalKind, id int64, jti string) error {
	q, err := queriesFor(kind)
	if err != nil {
		return err
	}
	return expectOne(s.db.ExecContext(ctx, q.setJTI, id, jti))
}

func (s *Store) RotateJTI(ctx context.Context, kind workgate.PrincipalKind, id int64, expected, next string) (bool, error) {
	q, err := queriesFor(kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, q.rotateJTI, id, expected, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Blacklist(ctx context.Context, jti string, principalID int64, kind workgate.PrincipalKind, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into session_blacklist (jti, principal_id, kind, expires_at)
		values ($1, $2, $3, $4)
		on conflict (jti) do nothing
	`, jti, principalID, string(kind), expiresAt.UTC())
	return err
}

func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from session_blacklist where jti = $1)`, jti).Scan(&exists)
	return exists, err
}

// PurgeBlacklist deletes entries whose token expired before cutoff and
// reports how many were removed.
func (s *Store) PurgeBlacklist(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from session_blacklist where expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return workgate.ErrPrincipalNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// newID is replaced in tests.
var newID = ids.At
