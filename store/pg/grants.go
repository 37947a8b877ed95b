package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/workgate"
)

func (s *Store) RoleName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `select name from roles where id = $1`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role %d not found", id)
	}
	return name, err
}

func (s *Store) RoleID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `select id from roles where name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("role %q not found", name)
	}
	return id, err
}

func (s *Store) ListRoles(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// UpsertRole creates or renames a role.
func (s *Store) UpsertRole(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name) values ($1, $2)
		on conflict (id) do update set name = excluded.name
	`, id, name)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("role %q: %w", name, workgate.ErrConflict)
	}
	return err
}

func (s *Store) RouteID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `select id from routes where name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) ActionIDs(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `select name, id from actions where name = any($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (s *Store) GrantedActions(ctx context.Context, adminID, routeID int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `select action_id from admin_grants where admin_id = $1 and route_id = $2`, adminID, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Grant gives an admin the named actions on a route, creating the route and
// action records as needed.
func (s *Store) Grant(ctx context.Context, adminID int64, route string, actions ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var routeID int64
	if err := tx.QueryRowContext(ctx, `
		insert into routes (name) values ($1)
		on conflict (name) do update set name = excluded.name
		returning id
	`, route).Scan(&routeID); err != nil {
		return err
	}
	for _, action := range actions {
		var actionID int64
		if err := tx.QueryRowContext(ctx, `
			insert into actions (name) values ($1)
			on conflict (name) do update set name = excluded.name
			returning id
		`, action).Scan(&actionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into admin_grants (admin_id, route_id, action_id) values ($1, $2, $3)
			on conflict do nothing
		`, adminID, routeID, actionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Revoke removes the named actions from an admin's grants on a route.
func (s *Store) Revoke(ctx context.Context, adminID int64, route string, actions ...string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from admin_grants g
		using routes r, actions a
		where g.route_id = r.id and g.action_id = a.id
		  and g.admin_id = $1 and r.name = $2 and a.name = any($3)
	`, adminID, route, actions)
	return err
}
