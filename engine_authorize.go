package workgate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Authorize decides whether ac may perform req.
//
// super_admin is always allowed. A non-empty AllowedRoleIDs is a pure role
// membership check. Otherwise the endpoint resolves to a route and the requested
// actions are checked against the admin's grants for that route, with ANY or ALL
// semantics. Unknown action names are ignored; if none remain the request is
// refused. An allowed admin must also be verified.
//
// Refusals are *DenyError values wrapping ErrForbidden, ErrRouteNotFound or
// ErrUnverified. When every requested action is unknown the refusal also
// matches ErrActionNotFound.
func (e *Engine) Authorize(ctx context.Context, ac AuthContext, req AuthorizeRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricAuthorizeLatency, start)

	route := e.routes.Resolve(req.Endpoint, req.RouteHint)

	err := e.authorize(ctx, ac, route, req)
	if err != nil {
		if errors.Is(err, ErrInternal) {
			e.metricInc(MetricInternalError)
			e.logger.ErrorContext(ctx, "authorization lookup failed", "route", route, "error", err)
			return err
		}
		e.metricInc(MetricAuthorizeDeny)
		e.emitAudit(ctx, auditEventAuthorizeDeny, false, ac, route, err, func() map[string]string {
			return map[string]string{
				"endpoint": req.Endpoint,
				"actions":  strings.Join(requestedActions(req), ","),
				"require":  req.Require.String(),
			}
		})
		return err
	}

	e.metricInc(MetricAuthorizeAllow)
	return nil
}

func (e *Engine) authorize(ctx context.Context, ac AuthContext, route string, req AuthorizeRequest) error {
	if ac.IsSuperAdmin() {
		return nil
	}

	if len(req.AllowedRoleIDs) > 0 {
		if !slices.Contains(req.AllowedRoleIDs, ac.RoleID) {
			return deny(ErrForbidden, "role %q may not access %s", ac.Role, route)
		}
	} else if err := e.checkGrants(ctx, ac, route, req); err != nil {
		return err
	}

	return e.checkVerified(ctx, ac)
}

func (e *Engine) checkGrants(ctx context.Context, ac AuthContext, route string, req AuthorizeRequest) error {
	if ac.Kind != KindAdmin {
		return deny(ErrForbidden, "%s principals hold no grants", ac.Kind)
	}

	actions := requestedActions(req)
	if len(actions) == 0 {
		return deny(ErrForbidden, "no action requested for %s", route)
	}

	routeID, ok, err := e.store.RouteID(ctx, route)
	if err != nil {
		return internalErr(err)
	}
	if !ok {
		return deny(ErrRouteNotFound, "%s", route)
	}

	known, err := e.store.ActionIDs(ctx, actions)
	if err != nil {
		return internalErr(err)
	}
	ids := make([]int64, 0, len(actions))
	for _, name := range actions {
		if id, ok := known[name]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return &DenyError{
			Err:    errActionsUnknown,
			Reason: fmt.Sprintf("no known action among %v", actions),
		}
	}

	granted, err := e.store.GrantedActions(ctx, ac.PrincipalID, routeID)
	if err != nil {
		return internalErr(err)
	}

	if !grantsSatisfy(granted, ids, req.Require) {
		return deny(ErrForbidden, "%s requires %s of %v", route, req.Require, actions)
	}
	return nil
}

func (e *Engine) checkVerified(ctx context.Context, ac AuthContext) error {
	// Employees are verified by definition.
	if ac.Kind != KindAdmin {
		return nil
	}
	p, err := e.store.FindPrincipalByID(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return deny(ErrForbidden, "principal no longer exists")
		}
		return internalErr(err)
	}
	if !p.Verified() {
		return deny(ErrUnverified, "admin %d awaits approval", ac.PrincipalID)
	}
	return nil
}

func grantsSatisfy(granted map[int64]struct{}, ids []int64, require Require) bool {
	for _, id := range ids {
		_, ok := granted[id]
		if require == RequireAll && !ok {
			return false
		}
		if require == RequireAny && ok {
			return true
		}
	}
	return require == RequireAll
}

func requestedActions(req AuthorizeRequest) []string {
	if len(req.Actions) > 0 {
		return req.Actions
	}
	if a := strings.TrimSpace(req.PayloadAction); a != "" {
		return []string{a}
	}
	return nil
}
