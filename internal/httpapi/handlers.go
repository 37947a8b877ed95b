package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/workgate"
	"github.com/MrEthical07/workgate/middleware"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Role       string `json:"role,omitempty"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (a *API) login(kind workgate.PrincipalKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			a.badRequest(w, err.Error())
			return
		}
		if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
			a.badRequest(w, "identifier and password are required")
			return
		}
		role := req.Role
		if kind == workgate.KindEmployee {
			role = ""
		}

		r = middleware.WithRequestInfo(r)
		res, err := a.engine.Login(r.Context(), kind, req.Identifier, req.Password, role)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.setSessionCookie(w, res.Token, res.ExpiresAt)
		middleware.WriteJSON(w, http.StatusOK, res)
	})
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.engine.Config().Transport.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AuthFromRequest(r)
	if err := a.engine.Logout(r.Context(), ac); err != nil {
		a.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.engine.Config().Transport.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	ac, _ := middleware.AuthFromRequest(r)
	if err := a.engine.VerifyTwoFactor(r.Context(), ac, req.Code); err != nil {
		a.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (a *API) resendTwoFactor(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AuthFromRequest(r)
	if err := a.engine.ResendTwoFactor(r.Context(), ac); err != nil {
		a.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AuthFromRequest(r)
	middleware.WriteJSON(w, http.StatusOK, ac)
}

// sample stands in for an HR handler behind the guard chain.
func (a *API) sample(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := middleware.AuthFromRequest(r)
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"endpoint":     name,
			"principal_id": ac.PrincipalID,
			"kind":         ac.Kind,
			"role":         ac.Role,
		})
	})
}
