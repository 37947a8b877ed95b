package pg

import (
	"context"
	"database/sql"

	"github.com/MrEthical07/workgate"
)

func (s *Store) UpsertDevice(ctx context.Context, rec workgate.DeviceRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = newID(rec.LastSeen)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.LastSeen
	}
	var issuedAt sql.NullTime
	if !rec.IssuedAt.IsZero() {
		issuedAt = sql.NullTime{Time: rec.IssuedAt.UTC(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id       string
		inserted bool
	)
	if err := tx.QueryRowContext(ctx, `
		insert into devices (id, kind, principal_id, fingerprint, name, os, browser, browser_version, ip, last_seen, current, jti, issued_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $12, $13)
		on conflict (kind, principal_id, fingerprint) do update
		set last_seen = excluded.last_seen,
		    current = true,
		    jti = excluded.jti,
		    issued_at = excluded.issued_at,
		    browser_version = excluded.browser_version
		returning id, (xmax = 0)
	`, rec.ID, string(rec.Kind), rec.PrincipalID, rec.DeviceFingerprint.Key(),
		rec.Name, rec.OS, rec.Browser, rec.BrowserVersion, rec.IP,
		rec.LastSeen.UTC(), rec.JTI, issuedAt, rec.CreatedAt.UTC(),
	).Scan(&id, &inserted); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		update devices set current = false
		where kind = $1 and principal_id = $2 and id <> $3 and current
	`, string(rec.Kind), rec.PrincipalID, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return inserted, nil
}

// ListDevices returns a principal's devices, most recently seen first.
func (s *Store) ListDevices(ctx context.Context, kind workgate.PrincipalKind, principalID int64) ([]workgate.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, os, browser, browser_version, ip, last_seen, current, jti, issued_at, created_at
		from devices
		where kind = $1 and principal_id = $2
		order by last_seen desc
	`, string(kind), principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workgate.DeviceRecord
	for rows.Next() {
		rec := workgate.DeviceRecord{Kind: kind, PrincipalID: principalID}
		var issuedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OS, &rec.Browser, &rec.BrowserVersion, &rec.IP,
			&rec.LastSeen, &rec.Current, &rec.JTI, &issuedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if issuedAt.Valid {
			rec.IssuedAt = issuedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
