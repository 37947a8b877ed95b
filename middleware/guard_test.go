package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/workgate"
	"github.com/MrEthical07/workgate/password"
)

const (
	testSecret  = "correct-horse-42"
	testAdminID = int64(7)
	testEmpID   = int64(42)
)

type captureMailer struct {
	mu   sync.Mutex
	msgs []workgate.Mail
}

func (m *captureMailer) Send(_ context.Context, msg workgate.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Kind == workgate.MailTwoFactorCode {
			if match := codePattern.FindStringSubmatch(m.msgs[i].Body); match != nil {
				return match[1]
			}
		}
	}
	t.Fatal("no two-factor code mailed")
	return ""
}

type testEnv struct {
	engine *workgate.Engine
	store  *workgate.MemoryStore
	mailer *captureMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := workgate.NewMemoryStore()
	for id, name := range map[int64]string{1: workgate.RoleAdmin, 2: workgate.RoleSuperAdmin, 5: workgate.RoleEmployee} {
		if err := store.AddRole(id, name); err != nil {
			t.Fatalf("role: %v", err)
		}
	}
	hasher, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	hash, err := hasher.Hash(testSecret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	seed := []workgate.Principal{
		{ID: testAdminID, Kind: workgate.KindAdmin, Identifier: "boss", Email: "boss@example.com", PasswordHash: hash, RoleID: 1, IsVerified: true},
		{ID: testEmpID, Kind: workgate.KindEmployee, Identifier: "emp42", Email: "emp42@example.com", PasswordHash: hash, RoleID: 5},
	}
	for _, p := range seed {
		if _, err := store.AddPrincipal(p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	cfg := workgate.DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Device.TrackOnLogin = false
	cfg.Notify.MaxRetries = 0

	mailer := &captureMailer{}
	engine, err := workgate.New().WithConfig(cfg).WithStore(store).WithMailer(mailer).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEnv{engine: engine, store: store, mailer: mailer}
}

func (env *testEnv) login(t *testing.T, kind workgate.PrincipalKind, identifier string) string {
	t.Helper()
	res, err := env.engine.Login(context.Background(), kind, identifier, testSecret, "")
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return res.Token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := AuthFromRequest(r)
		if !ok {
			http.Error(w, "no auth context", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "%s:%d", ac.Kind, ac.PrincipalID)
	})
}

func apiRequest(method, target, token string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	r.Header.Set("Accept", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAuthenticateMissingToken(t *testing.T) {
	env := newTestEnv(t)
	h := Authenticate(env.engine)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/me", "", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != workgate.CodeTokenMissing {
		t.Fatalf("unexpected body %+v", body)
	}

	// Browser navigation is redirected to the matching login page.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/payroll", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/admin/login" {
		t.Fatalf("expected redirect to /admin/login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attendance", nil))
	if rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %q", rec.Header().Get("Location"))
	}
}

func TestAuthenticateHeaderAndCookie(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, workgate.KindEmployee, "emp42")
	h := Authenticate(env.engine)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/me", token, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "employee:42" {
		t.Fatalf("header auth failed: %d %q", rec.Code, rec.Body.String())
	}

	for _, value := range []string{token, "Bearer " + token} {
		r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		r.AddCookie(&http.Cookie{Name: "Authorization", Value: value})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("cookie %q: got %d", value[:6], rec.Code)
		}
	}
}

func TestAuthenticateSessionConflict(t *testing.T) {
	env := newTestEnv(t)
	old := env.login(t, workgate.KindEmployee, "emp42")
	env.login(t, workgate.KindEmployee, "emp42")

	rec := httptest.NewRecorder()
	Authenticate(env.engine)(okHandler()).ServeHTTP(rec, apiRequest(http.MethodGet, "/api/me", old, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body.Error != workgate.CodeSessionConflict || body.Redirect != "/login" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestProtectTwoFactorThenGrant(t *testing.T) {
	env := newTestEnv(t)
	env.store.Grant(testAdminID, "payrollandfinancialmanagement", "view")
	token := env.login(t, workgate.KindAdmin, "boss")
	h := Protect(env.engine, "view_payroll", Actions("view"))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodGet, "/admin/payroll", token, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body.Error != workgate.CodeTwoFactorRequired || body.Redirect != "/2fa" {
		t.Fatalf("unexpected body %+v", body)
	}

	// A browser is sent to the two-factor page instead.
	r := httptest.NewRequest(http.MethodGet, "/admin/payroll", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/2fa" {
		t.Fatalf("expected redirect to /2fa, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	ac, err := env.engine.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := env.engine.VerifyTwoFactor(context.Background(), ac, env.mailer.lastCode(t)); err != nil {
		t.Fatalf("two-factor: %v", err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodGet, "/admin/payroll", token, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "admin:7" {
		t.Fatalf("expected access, got %d %q", rec.Code, rec.Body.String())
	}

	// Fresh two-factor does not bypass grants.
	rec = httptest.NewRecorder()
	Protect(env.engine, "edit_payroll", Actions("edit"))(okHandler()).ServeHTTP(rec, apiRequest(http.MethodPost, "/admin/payroll", token, nil))
	if rec.Code != http.StatusForbidden || decodeBody(t, rec).Error != workgate.CodeForbidden {
		t.Fatalf("expected forbidden, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthorizePayloadActionFromJSON(t *testing.T) {
	env := newTestEnv(t)
	env.store.Grant(testAdminID, "dashboard", "edit")
	token := env.login(t, workgate.KindAdmin, "boss")

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		seen = string(data)
	})
	// The admin role skips two-factor on the dashboard.
	h := Protect(env.engine, "admin_dashboard")(handler)

	r := apiRequest(http.MethodPost, "/admin/dashboard", token, strings.NewReader(`{"action":"edit","widget":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(seen, `"widget":"x"`) {
		t.Fatalf("body not restored for handler: %q", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodGet, "/admin/dashboard?action=delete", token, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ungranted query action, got %d", rec.Code)
	}
}

func TestAuthorizePayloadActionFromLargeJSON(t *testing.T) {
	env := newTestEnv(t)
	env.store.Grant(testAdminID, "dashboard", "edit")
	token := env.login(t, workgate.KindAdmin, "boss")

	body := `{"action":"edit","pad":"` + strings.Repeat("x", 2*maxPayloadPeek) + `"}`
	var seen int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		seen = len(data)
	})
	h := Protect(env.engine, "admin_dashboard")(handler)

	r := apiRequest(http.MethodPost, "/admin/dashboard", token, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %q", rec.Code, rec.Body.String())
	}
	if seen != len(body) {
		t.Fatalf("handler saw %d of %d bytes", seen, len(body))
	}
}

func TestAuthorizeAllowRoles(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, workgate.KindEmployee, "emp42")
	ids, err := env.engine.RoleIDs(context.Background(), workgate.RoleEmployee)
	if err != nil {
		t.Fatalf("role ids: %v", err)
	}

	chain := func(opts ...Option) http.Handler {
		return Authenticate(env.engine)(Authorize(env.engine, "employee_attendance", opts...)(okHandler()))
	}

	rec := httptest.NewRecorder()
	chain(AllowRoles(ids...)).ServeHTTP(rec, apiRequest(http.MethodGet, "/attendance", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("employee role allowed, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	chain(AllowRoles(1)).ServeHTTP(rec, apiRequest(http.MethodGet, "/attendance", token, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGuardsWithoutAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	Authorize(env.engine, "view_payroll")(okHandler()).ServeHTTP(rec, apiRequest(http.MethodGet, "/admin/payroll", "", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Authenticate(nil)(okHandler()).ServeHTTP(rec, apiRequest(http.MethodGet, "/", "x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("nil engine must fail closed, got %d", rec.Code)
	}
}

func TestTrackDevices(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, workgate.KindEmployee, "emp42")
	h := Authenticate(env.engine)(TrackDevices(env.engine)(okHandler()))

	r := apiRequest(http.MethodGet, "/api/me", token, nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	r.RemoteAddr = "203.0.113.5:4711"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	devices := env.store.Devices(workgate.KindEmployee, testEmpID)
	if len(devices) != 1 || devices[0].IP != "203.0.113.5" || devices[0].Name != "Desktop" {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		workgate.ErrTokenExpired:         http.StatusUnauthorized,
		workgate.ErrSessionConflict:      http.StatusUnauthorized,
		workgate.ErrForbidden:            http.StatusForbidden,
		workgate.ErrRouteNotFound:        http.StatusForbidden,
		workgate.ErrUnverified:           http.StatusForbidden,
		workgate.ErrTwoFactorRequired:    http.StatusForbidden,
		workgate.ErrTooManyAttempts:      http.StatusTooManyRequests,
		workgate.ErrInvalidTwoFactorCode: http.StatusBadRequest,
		workgate.ErrInternal:             http.StatusInternalServerError,
		errors.New("boom"):               http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
	wrapped := fmt.Errorf("authorize: %w", &workgate.DenyError{Err: workgate.ErrRouteNotFound, Reason: "no record"})
	if StatusFor(wrapped) != http.StatusForbidden {
		t.Fatal("wrapped deny must stay 403")
	}
}
