package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/workgate"
)

const maxPayloadPeek = 1 << 20

// AuthFromRequest returns the identity stored by Authenticate.
func AuthFromRequest(r *http.Request) (workgate.AuthContext, bool) {
	return workgate.AuthFromContext(r.Context())
}

// Authenticate verifies the session token and stores the identity, client IP
// and user agent in the request context.
func Authenticate(engine *workgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				Deny(w, r, workgate.DefaultConfig(), workgate.ErrEngineNotReady)
				return
			}
			cfg := engine.Config()
			r = WithRequestInfo(r)

			token, ok := tokenFromRequest(r, cfg.Transport.CookieName)
			if !ok {
				render(w, r, http.StatusUnauthorized, ErrorBody{
					Error:    workgate.CodeTokenMissing,
					Message:  "missing session token",
					Redirect: loginURL(r, cfg),
				})
				return
			}

			ac, err := engine.Verify(r.Context(), token)
			if err != nil {
				Deny(w, r, cfg, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(workgate.ContextWithAuth(r.Context(), ac)))
		})
	}
}

// RequireTwoFactor demands a fresh two-factor verification for route.
func RequireTwoFactor(engine *workgate.Engine, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, cfg, ok := requireAuth(w, r, engine)
			if !ok {
				return
			}
			if err := engine.RequireFreshTwoFactor(r.Context(), ac, route); err != nil {
				Deny(w, r, cfg, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Option adjusts an Authorize check.
type Option func(*workgate.AuthorizeRequest)

// AllowRoles restricts the endpoint to the given role ids, replacing the
// grant check.
func AllowRoles(ids ...int64) Option {
	return func(req *workgate.AuthorizeRequest) {
		req.AllowedRoleIDs = append(req.AllowedRoleIDs, ids...)
	}
}

// Actions names the actions the endpoint needs. Without it the request's
// "action" parameter is used.
func Actions(names ...string) Option {
	return func(req *workgate.AuthorizeRequest) {
		req.Actions = append(req.Actions, names...)
	}
}

// RequireAll demands every listed action instead of any one.
func RequireAll() Option {
	return func(req *workgate.AuthorizeRequest) { req.Require = workgate.RequireAll }
}

// RouteHint is the route used when the endpoint has no table mapping.
func RouteHint(hint string) Option {
	return func(req *workgate.AuthorizeRequest) { req.RouteHint = hint }
}

func buildRequest(endpoint string, opts []Option) workgate.AuthorizeRequest {
	req := workgate.AuthorizeRequest{Endpoint: endpoint}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Authorize checks that the caller may use endpoint.
func Authorize(engine *workgate.Engine, endpoint string, opts ...Option) func(http.Handler) http.Handler {
	base := buildRequest(endpoint, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, cfg, ok := requireAuth(w, r, engine)
			if !ok {
				return
			}
			req := base
			if len(req.Actions) == 0 && len(req.AllowedRoleIDs) == 0 {
				req.PayloadAction = payloadAction(r)
			}
			if err := engine.Authorize(r.Context(), ac, req); err != nil {
				Deny(w, r, cfg, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Protect runs Authenticate, RequireTwoFactor and Authorize in order. The
// two-factor route is the endpoint's resolved route.
func Protect(engine *workgate.Engine, endpoint string, opts ...Option) func(http.Handler) http.Handler {
	req := buildRequest(endpoint, opts)
	route := endpoint
	if engine != nil {
		route = engine.Routes().Resolve(endpoint, req.RouteHint)
	}
	authn := Authenticate(engine)
	twoFactor := RequireTwoFactor(engine, route)
	authz := Authorize(engine, endpoint, opts...)
	return func(next http.Handler) http.Handler {
		return authn(twoFactor(authz(next)))
	}
}

// TrackDevices records the caller's device after the handler chain
// authenticated it. Failures are logged by the engine and never block the
// request.
func TrackDevices(engine *workgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine != nil {
				if ac, ok := AuthFromRequest(r); ok {
					_, _ = engine.TrackDevice(WithRequestInfo(r).Context(), ac)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireAuth(w http.ResponseWriter, r *http.Request, engine *workgate.Engine) (workgate.AuthContext, workgate.Config, bool) {
	if engine == nil {
		Deny(w, r, workgate.DefaultConfig(), workgate.ErrEngineNotReady)
		return workgate.AuthContext{}, workgate.Config{}, false
	}
	cfg := engine.Config()
	ac, ok := AuthFromRequest(r)
	if !ok {
		Deny(w, r, cfg, workgate.ErrTokenInvalid)
		return workgate.AuthContext{}, cfg, false
	}
	return ac, cfg, true
}

// tokenFromRequest prefers the Authorization header. The cookie may hold the
// raw token or "Bearer <token>".
func tokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if cookieName == "" {
		return "", false
	}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(c.Value)
	if token, ok := bearerToken(value); ok {
		return token, true
	}
	return value, value != ""
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

// WithRequestInfo attaches the client IP and user agent for device tracking,
// throttling and audit.
func WithRequestInfo(r *http.Request) *http.Request {
	ctx := workgate.WithClientIP(r.Context(), ClientIP(r))
	ctx = workgate.WithUserAgent(ctx, r.UserAgent())
	return r.WithContext(ctx)
}

// ClientIP returns the host part of RemoteAddr. Deployments behind a proxy
// should rewrite RemoteAddr before this middleware runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// payloadAction reads "action" from the query, a form body or a JSON body.
// A JSON body is restored in full for the handler.
func payloadAction(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get("action")); v != "" {
		return v
	}
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"), strings.HasPrefix(ct, "multipart/form-data"):
		return strings.TrimSpace(r.PostFormValue("action"))
	case strings.HasPrefix(ct, "application/json"):
		var peeked bytes.Buffer
		dec := json.NewDecoder(io.TeeReader(io.LimitReader(r.Body, maxPayloadPeek), &peeked))
		action := jsonAction(dec)
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(&peeked, r.Body), r.Body}
		return action
	}
	return ""
}

// jsonAction scans the top-level object until it finds "action". Values
// before it are skipped, so only a prefix of a large body is read.
func jsonAction(dec *json.Decoder) string {
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if key, _ := tok.(string); key == "action" {
			var v string
			if dec.Decode(&v) != nil {
				return ""
			}
			return strings.TrimSpace(v)
		}
		var skip json.RawMessage
		if dec.Decode(&skip) != nil {
			return ""
		}
	}
	return ""
}
