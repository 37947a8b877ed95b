// Package middleware adapts workgate.Engine checks to net/http.
//
// # Guards
//
//   - [Authenticate] verifies the session token from the Authorization header
//     or cookie and stores the identity in the request context.
//   - [RequireTwoFactor] demands a fresh emailed-code verification.
//   - [Authorize] checks roles or (route, action) grants.
//   - [Protect] composes the three in that order.
//   - [TrackDevices] records the caller's device for an authenticated request.
//
// Each guard expects the previous ones to have run; RequireTwoFactor and
// Authorize render 401 when no identity is present.
//
// # Denials
//
// API callers (Accept: application/json or X-Requested-With: XMLHttpRequest)
// get a JSON body {"error", "message", "redirect"}. Browser navigations are
// redirected: to the login page for 401s and to the two-factor page when a
// code is required.
//
// This package translates HTTP semantics into Engine calls. It makes no
// decisions of its own.
package middleware
