package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/workgate"
)

// arrayConverter lets []string reach the mock the way pgx accepts it.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func fixedIDs(t *testing.T, id string) {
	t.Helper()
	prev := newID
	newID = func(time.Time) string { return id }
	t.Cleanup(func() { newID = prev })
}

var principalColumns = []string{"id", "identifier", "email", "password_hash", "role_id", "name", "is_verified", "current_jti"}

func TestFindPrincipal(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`from admins p left join roles r on r.id = p.role_id where lower\(p.identifier\) = lower\(\$1\)`).
		WithArgs("boss").
		WillReturnRows(sqlmock.NewRows(principalColumns).AddRow(int64(7), "boss", "boss@example.com", "$argon2id$x", int64(1), "admin", true, "jti-1"))

	p, err := store.FindPrincipal(ctx, workgate.KindAdmin, "  boss ")
	if err != nil {
		t.Fatalf("FindPrincipal: %v", err)
	}
	if p.ID != 7 || p.Kind != workgate.KindAdmin || p.Role != "admin" || !p.IsVerified || p.CurrentJTI != "jti-1" {
		t.Fatalf("unexpected principal %+v", p)
	}

	mock.ExpectQuery(`from employees p left join roles r`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.FindPrincipal(ctx, workgate.KindEmployee, "ghost"); !errors.Is(err, workgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}

	// No query for an unknown kind or an empty identifier.
	if _, err := store.FindPrincipal(ctx, workgate.PrincipalKind("guest"), "x"); !errors.Is(err, workgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
	if _, err := store.FindPrincipal(ctx, workgate.KindAdmin, " "); !errors.Is(err, workgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestCreatePrincipalConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into admins").
		WithArgs("boss", "boss@example.com", "hash", int64(1), true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreatePrincipal(context.Background(), workgate.Principal{
		Kind:         workgate.KindAdmin,
		Identifier:   "boss",
		Email:        "boss@example.com",
		PasswordHash: "hash",
		RoleID:       1,
		IsVerified:   true,
	})
	if !errors.Is(err, workgate.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRotateJTI(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update employees set current_jti = nullif\(\$3, ''\) where id = \$1 and coalesce\(current_jti, ''\) = \$2`).
		WithArgs(int64(42), "old", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.RotateJTI(ctx, workgate.KindEmployee, 42, "old", "")
	if err != nil || !ok {
		t.Fatalf("expected rotation, got ok=%v err=%v", ok, err)
	}

	mock.ExpectExec("update employees set current_jti").
		WithArgs(int64(42), "stale", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.RotateJTI(ctx, workgate.KindEmployee, 42, "stale", "")
	if err != nil || ok {
		t.Fatalf("stale rotation must not apply, got ok=%v err=%v", ok, err)
	}
}

func TestSetCurrentJTIMissingPrincipal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update admins set current_jti").
		WithArgs(int64(99), "j").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.SetCurrentJTI(context.Background(), workgate.KindAdmin, 99, "j"); !errors.Is(err, workgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestBlacklist(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	exp := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into session_blacklist").
		WithArgs("jti-1", int64(42), "employee", exp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Blacklist(ctx, "jti-1", 42, workgate.KindEmployee, exp); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}

	mock.ExpectQuery("select exists").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	listed, err := store.IsBlacklisted(ctx, "jti-1")
	if err != nil || !listed {
		t.Fatalf("expected blacklisted, got %v %v", listed, err)
	}
}

func TestActionIDsAndGrants(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	names := []string{"view", "teleport"}
	mock.ExpectQuery(`select name, id from actions where name = any\(\$1\)`).
		WithArgs(names).
		WillReturnRows(sqlmock.NewRows([]string{"name", "id"}).AddRow("view", int64(3)))
	got, err := store.ActionIDs(ctx, names)
	if err != nil {
		t.Fatalf("ActionIDs: %v", err)
	}
	if len(got) != 1 || got["view"] != 3 {
		t.Fatalf("unexpected ids %v", got)
	}

	mock.ExpectQuery("select action_id from admin_grants").
		WithArgs(int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(3)).AddRow(int64(4)))
	granted, err := store.GrantedActions(ctx, 7, 11)
	if err != nil {
		t.Fatalf("GrantedActions: %v", err)
	}
	if _, ok := granted[4]; !ok || len(granted) != 2 {
		t.Fatalf("unexpected grants %v", granted)
	}

	mock.ExpectQuery("select id from routes").
		WithArgs("nowhere").
		WillReturnError(sql.ErrNoRows)
	if _, found, err := store.RouteID(ctx, "nowhere"); err != nil || found {
		t.Fatalf("missing route must be found=false err=nil, got %v %v", found, err)
	}
}

func TestTwoFactorRecords(t *testing.T) {
	store, mock := newMockStore(t)
	fixedIDs(t, "01JCODE")
	ctx := context.Background()
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into two_factor_codes").
		WithArgs("01JCODE", "admin", int64(7), "123456", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.InsertCode(ctx, workgate.TwoFactorRecord{Kind: workgate.KindAdmin, PrincipalID: 7, Code: "123456", CreatedAt: created}); err != nil {
		t.Fatalf("InsertCode: %v", err)
	}

	cols := []string{"id", "kind", "principal_id", "code", "verified", "created_at", "verified_at"}
	mock.ExpectQuery("from two_factor_codes.*limit 1.*latest.*not latest\\.verified").
		WithArgs("admin", int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("01JCODE", "admin", int64(7), "123456", false, created, nil))
	rec, err := store.LatestUnverified(ctx, workgate.KindAdmin, 7)
	if err != nil || rec == nil {
		t.Fatalf("LatestUnverified: %v %v", rec, err)
	}
	if rec.Code != "123456" || !rec.VerifiedAt.IsZero() || rec.Kind != workgate.KindAdmin {
		t.Fatalf("unexpected record %+v", rec)
	}

	// The newest code was verified, so older pending ones are not returned.
	mock.ExpectQuery("not latest\\.verified").
		WithArgs("admin", int64(7)).
		WillReturnRows(sqlmock.NewRows(cols))
	if rec, err := store.LatestUnverified(ctx, workgate.KindAdmin, 7); err != nil || rec != nil {
		t.Fatalf("expected no pending record, got %v %v", rec, err)
	}

	mock.ExpectQuery("from two_factor_codes").
		WithArgs("admin", int64(8)).
		WillReturnError(sql.ErrNoRows)
	if rec, err := store.LatestRecord(ctx, workgate.KindAdmin, 8); err != nil || rec != nil {
		t.Fatalf("expected nil record, got %v %v", rec, err)
	}

	since := created.Add(-5 * time.Minute)
	mock.ExpectQuery("select count\\(\\*\\) from two_factor_failures").
		WithArgs("admin", int64(7), since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	n, err := store.CountRecentFailures(ctx, workgate.KindAdmin, 7, since)
	if err != nil || n != 4 {
		t.Fatalf("CountRecentFailures: %d %v", n, err)
	}

	mock.ExpectExec("update two_factor_codes set verified = true").
		WithArgs("missing", created).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.MarkVerified(ctx, "missing", created); err == nil {
		t.Fatal("expected error for unknown record")
	}
}

func TestUpsertDevice(t *testing.T) {
	store, mock := newMockStore(t)
	fixedIDs(t, "01JDEV")
	seen := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	rec := workgate.DeviceRecord{
		PrincipalID: 42,
		Kind:        workgate.KindEmployee,
		DeviceFingerprint: workgate.DeviceFingerprint{
			Name: "Desktop", OS: "Windows 10", Browser: "Chrome", BrowserVersion: "124.0", IP: "203.0.113.5",
		},
		LastSeen: seen,
		JTI:      "jti-1",
		IssuedAt: seen,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into devices .* on conflict \(kind, principal_id, fingerprint\) do update`).
		WithArgs("01JDEV", "employee", int64(42), rec.DeviceFingerprint.Key(), "Desktop", "Windows 10", "Chrome", "124.0", "203.0.113.5",
			seen, "jti-1", seen, seen).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow("01JDEV", true))
	mock.ExpectExec("update devices set current = false").
		WithArgs("employee", int64(42), "01JDEV").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	isNew, err := store.UpsertDevice(context.Background(), rec)
	if err != nil || !isNew {
		t.Fatalf("UpsertDevice: new=%v err=%v", isNew, err)
	}
}

func TestUpsertDeviceRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into devices").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := store.UpsertDevice(context.Background(), workgate.DeviceRecord{ID: "x", Kind: workgate.KindAdmin, PrincipalID: 1, LastSeen: time.Now()}); err == nil {
		t.Fatal("expected error")
	}
}
