// Package httpapi is the HTTP surface of the workgate server: login, logout,
// two-factor endpoints and a few guarded sample routes.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/workgate"
	promexport "github.com/MrEthical07/workgate/metrics/export/prometheus"
	"github.com/MrEthical07/workgate/middleware"
)

// Options configures New.
type Options struct {
	Logger *slog.Logger
	// Ready reports backend health for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
	// LoginBurst and LoginPerSecond bound login requests per client IP. Zero
	// disables the limiter.
	LoginBurst     int
	LoginPerSecond float64
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	MaxBodyBytes int64
}

// endpoint is one registered route. name is the routes-table endpoint name.
type endpoint struct {
	pattern string
	name    string
	handler http.Handler
}

// API owns the mux and its metrics registry.
type API struct {
	engine    *workgate.Engine
	logger    *slog.Logger
	opts      Options
	mux       *http.ServeMux
	registry  *prometheus.Registry
	metrics   *httpMetrics
	limiter   *ipLimiter
	endpoints []endpoint
}

// New wires every route. Role ids for allow-listed routes are resolved once,
// so the store must already hold the roles.
func New(ctx context.Context, engine *workgate.Engine, opts Options) (*API, error) {
	if engine == nil {
		return nil, workgate.ErrEngineNotReady
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		engine:   engine,
		logger:   opts.Logger.With("component", "httpapi"),
		opts:     opts,
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = newHTTPMetrics(a.registry)
	a.registry.MustRegister(
		promexport.NewCollector(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if opts.LoginPerSecond > 0 && opts.LoginBurst > 0 {
		a.limiter = newIPLimiter(opts.LoginBurst, opts.LoginPerSecond)
	}

	attendanceRoles, err := engine.RoleIDs(ctx, workgate.RoleEmployee, workgate.RoleHR, workgate.RoleManager)
	if err != nil {
		return nil, err
	}

	authn := middleware.Authenticate(engine)
	a.endpoints = []endpoint{
		{"GET /healthz", "healthz", http.HandlerFunc(a.healthz)},
		{"GET /readyz", "readyz", http.HandlerFunc(a.readyz)},
		{"GET /metrics", "metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})},

		{"POST /auth/employee/login", "employee_login", a.rateLimited(a.login(workgate.KindEmployee))},
		{"POST /auth/admin/login", "admin_login", a.rateLimited(a.login(workgate.KindAdmin))},
		{"POST /auth/logout", "logout", authn(http.HandlerFunc(a.logout))},
		{"POST /auth/2fa/verify", "two_factor_verify", authn(http.HandlerFunc(a.verifyTwoFactor))},
		{"POST /auth/2fa/resend", "two_factor_resend", authn(http.HandlerFunc(a.resendTwoFactor))},
		{"GET /auth/me", "me", authn(http.HandlerFunc(a.me))},

		{"GET /admin/dashboard", "admin_dashboard", middleware.Protect(engine, "admin_dashboard", middleware.Actions("view"))(a.sample("admin_dashboard"))},
		{"GET /admin/payroll", "view_payroll", middleware.Protect(engine, "view_payroll", middleware.Actions("view"))(a.sample("view_payroll"))},
		{"POST /admin/payroll", "edit_payroll", middleware.Protect(engine, "edit_payroll")(a.sample("edit_payroll"))},
		{"GET /attendance", "employee_attendance", authn(middleware.TrackDevices(engine)(middleware.Authorize(engine, "employee_attendance", middleware.AllowRoles(attendanceRoles...))(a.sample("employee_attendance"))))},
	}
	for _, ep := range a.endpoints {
		a.mux.Handle(ep.pattern, a.metrics.instrument(ep.name, ep.handler))
	}
	return a, nil
}

// Handler returns the root handler with logging, body limits and security
// headers applied.
func (a *API) Handler() http.Handler {
	return a.logging(securityHeaders(maxBodyBytes(a.mux, a.opts.MaxBodyBytes)))
}

// Registry exposes the metrics registry for extra collectors.
func (a *API) Registry() *prometheus.Registry { return a.registry }

// EndpointNames lists the routes-table names of every registered route.
func (a *API) EndpointNames() []string {
	out := make([]string, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		out = append(out, ep.name)
	}
	return out
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "workgate"})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError renders an engine error without a redirect hint.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	middleware.WriteJSON(w, status, middleware.ErrorBody{Error: workgate.ErrorCode(err), Message: msg})
}

var errBadRequest = errors.New("bad request")

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "BAD_REQUEST", Message: msg})
}
