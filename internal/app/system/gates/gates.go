// Package gates applies the authorization decision to HTTP requests.
//
// Routes and handlers hold only an authz.Requirement. The decision comes
// from authz.Authorize on the caller's current session snapshot; gates
// decide how a denial looks on the wire:
//
//   - HTMX: HX-Redirect to the target so the full page swaps.
//   - HTML: 303 redirect to the target.
//   - API:  401 or 403 with a JSON body naming the target.
//
// Unauthenticated callers go to the login view with a return parameter;
// forbidden callers go to the neutral default view.
package gates

import (
	"net/http"
	"net/url"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
)

// Require is route-level middleware admitting only requests whose session
// satisfies req.
func Require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := Check(w, r, req); ok {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Check evaluates req for r. On denial it writes the response and returns
// false; on success it returns the snapshot the decision was made on.
func Check(w http.ResponseWriter, r *http.Request, req authz.Requirement) (session.Session, bool) {
	s := auth.CurrentSession(r)
	d := authz.Authorize(s, req)
	if d == authz.Allow {
		return s, true
	}
	Deny(w, r, d)
	return s, false
}

// Deny writes the response for a denied decision.
func Deny(w http.ResponseWriter, r *http.Request, d authz.Decision) {
	target := Target(r, d)
	status := http.StatusForbidden
	if d == authz.DenyUnauthenticated {
		status = http.StatusUnauthorized
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(status)
		return
	}
	if uierrors.WantsHTML(r) {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	if status == http.StatusUnauthorized {
		uierrors.Unauthorized(w, target)
		return
	}
	uierrors.Forbidden(w, target)
}

// Target is authz.RedirectTarget with the caller's location preserved for
// the login view.
func Target(r *http.Request, d authz.Decision) string {
	target := authz.RedirectTarget(d)
	if d == authz.DenyUnauthenticated {
		return target + "?return=" + url.QueryEscape(r.URL.RequestURI())
	}
	return target
}
