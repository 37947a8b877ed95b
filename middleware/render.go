package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/workgate"
)

// ErrorBody is the JSON shape of a denial.
type ErrorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, workgate.ErrTwoFactorRequired),
		errors.Is(err, workgate.ErrForbidden),
		errors.Is(err, workgate.ErrUnverified),
		errors.Is(err, workgate.ErrRouteNotFound):
		return http.StatusForbidden
	case errors.Is(err, workgate.ErrTooManyAttempts),
		errors.Is(err, workgate.ErrLoginRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, workgate.ErrInvalidTwoFactorCode):
		return http.StatusBadRequest
	case errors.Is(err, workgate.ErrTokenExpired),
		errors.Is(err, workgate.ErrTokenInvalid),
		errors.Is(err, workgate.ErrTokenBlacklisted),
		errors.Is(err, workgate.ErrSessionConflict),
		errors.Is(err, workgate.ErrInvalidCredentials),
		errors.Is(err, workgate.ErrPrincipalNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WantsJSON reports whether the caller is an API or AJAX client.
func WantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// Deny renders err for the caller.
func Deny(w http.ResponseWriter, r *http.Request, cfg workgate.Config, err error) {
	status := StatusFor(err)
	code := workgate.ErrorCode(err)

	var redirect string
	var tfe *workgate.TwoFactorRequiredError
	switch {
	case errors.As(err, &tfe):
		redirect = tfe.Redirect
	case status == http.StatusUnauthorized:
		redirect = loginURL(r, cfg)
	}
	render(w, r, status, ErrorBody{Error: code, Message: message(status, err), Redirect: redirect})
}

func render(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	if body.Redirect != "" && !WantsJSON(r) {
		http.Redirect(w, r, body.Redirect, http.StatusFound)
		return
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Internal failures never leak their cause.
func message(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func loginURL(r *http.Request, cfg workgate.Config) string {
	if strings.HasPrefix(r.URL.Path, "/admin") && cfg.Transport.AdminLoginURL != "" {
		return cfg.Transport.AdminLoginURL
	}
	return cfg.Transport.LoginURL
}
