package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/workgate"
)

const codeColumns = `id, kind, principal_id, code, verified, created_at, verified_at`

func (s *Store) InsertCode(ctx context.Context, rec workgate.TwoFactorRecord) error {
	if rec.ID == "" {
		rec.ID = newID(rec.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into two_factor_codes (id, kind, principal_id, code, verified, created_at)
		values ($1, $2, $3, $4, false, $5)
	`, rec.ID, string(rec.Kind), rec.PrincipalID, rec.Code, rec.CreatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return workgate.ErrConflict
	}
	return err
}

func (s *Store) LatestRecord(ctx context.Context, kind workgate.PrincipalKind, principalID int64) (*workgate.TwoFactorRecord, error) {
	return scanCode(s.db.QueryRowContext(ctx, `
		select `+codeColumns+` from two_factor_codes
		where kind = $1 and principal_id = $2
		order by created_at desc, id desc
		limit 1
	`, string(kind), principalID))
}

func (s *Store) LatestUnverified(ctx context.Context, kind workgate.PrincipalKind, principalID int64) (*workgate.TwoFactorRecord, error) {
	return scanCode(s.db.QueryRowContext(ctx, `
		select `+codeColumns+` from (
			select `+codeColumns+` from two_factor_codes
			where kind = $1 and principal_id = $2
			order by created_at desc, id desc
			limit 1
		) latest
		where not latest.verified
	`, string(kind), principalID))
}

func scanCode(row *sql.Row) (*workgate.TwoFactorRecord, error) {
	var (
		rec        workgate.TwoFactorRecord
		kind       string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &kind, &rec.PrincipalID, &rec.Code, &rec.Verified, &rec.CreatedAt, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = workgate.PrincipalKind(kind)
	if verifiedAt.Valid {
		rec.VerifiedAt = verifiedAt.Time
	}
	return &rec, nil
}

func (s *Store) MarkVerified(ctx context.Context, recordID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update two_factor_codes set verified = true, verified_at = $2 where id = $1`, recordID, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("two-factor record %s not found", recordID)
	}
	return nil
}

func (s *Store) RecordFailedAttempt(ctx context.Context, kind workgate.PrincipalKind, principalID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into two_factor_failures (id, kind, principal_id, attempted_at)
		values ($1, $2, $3, $4)
	`, newID(at), string(kind), principalID, at.UTC())
	return err
}

func (s *Store) CountRecentFailures(ctx context.Context, kind workgate.PrincipalKind, principalID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from two_factor_failures
		where kind = $1 and principal_id = $2 and attempted_at > $3
	`, string(kind), principalID, since.UTC()).Scan(&n)
	return n, err
}

// PurgeTwoFactor deletes codes and failed attempts older than cutoff.
func (s *Store) PurgeTwoFactor(ctx context.Context, cutoff time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from two_factor_failures where attempted_at < $1`, cutoff.UTC()); err != nil {
		return err
	}
	// The latest record per principal carries the freshness state.
	if _, err := tx.ExecContext(ctx, `
		delete from two_factor_codes c
		where c.created_at < $1
		  and exists (
		    select 1 from two_factor_codes n
		    where n.kind = c.kind and n.principal_id = c.principal_id and n.created_at > c.created_at
		  )
	`, cutoff.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
