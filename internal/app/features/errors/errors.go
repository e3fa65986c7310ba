// internal/app/features/errors/errors.go
//
// Package errors is the one place the HTTP surface turns failures into
// responses. Handlers return engine errors here; the kind decides the
// status code and the JSON body.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/dalemusser/opsdesk/internal/app/store/records"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"go.uber.org/zap"
)

// Error codes carried in Body.Code.
const (
	CodeValidation      = "validation"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeStore           = "store_unavailable"
	CodeRateLimited     = "rate_limited"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

// Body is the JSON error envelope.
type Body struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
	// Redirect is where a browser should navigate, for denials.
	Redirect string `json:"redirect,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WantsHTML reports whether the caller is a browser navigation rather
// than an API call.
func WantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Write sends a plain error body.
func Write(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, Body{Error: msg, Code: code})
}

// Classify maps err to a status, a code and a message safe to show.
func Classify(err error) (int, Body) {
	var (
		ve *apperr.ValidationError
		ae *apperr.AuthError
		se *apperr.StoreError
	)
	switch {
	case stderrors.As(err, &ve):
		return http.StatusUnprocessableEntity, Body{Error: "Please correct the highlighted fields.", Code: CodeValidation, Fields: ve.Fields}
	case stderrors.As(err, &ae):
		return http.StatusUnauthorized, Body{Error: authMessage(ae), Code: CodeUnauthenticated}
	case stderrors.Is(err, records.ErrNotFound):
		return http.StatusNotFound, Body{Error: "That record no longer exists.", Code: CodeNotFound}
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, Body{Error: "The record store took too long to respond. Please try again.", Code: CodeStore}
	case stderrors.As(err, &se):
		return http.StatusBadGateway, Body{Error: "The record store is unavailable. Please try again.", Code: CodeStore}
	case stderrors.Is(err, desk.ErrClosed):
		return http.StatusServiceUnavailable, Body{Error: "Your session was closed. Please reload.", Code: CodeInternal}
	}
	return http.StatusInternalServerError, Body{Error: "Something went wrong.", Code: CodeInternal}
}

func authMessage(ae *apperr.AuthError) string {
	switch ae.Reason {
	case "invalid credentials", "invalid email or password":
		return "Invalid email or password."
	case "account disabled":
		return "This account is disabled."
	}
	return "Authentication failed. Please sign in again."
}

// FromError writes the response for err. Server-side failures are logged;
// expected client mistakes are not.
func FromError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, body := Classify(err)
	if status >= 500 && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteJSON(w, status, body)
}

// Unauthorized tells an API caller to sign in.
func Unauthorized(w http.ResponseWriter, loginURL string) {
	WriteJSON(w, http.StatusUnauthorized, Body{Error: "Please sign in to continue.", Code: CodeUnauthenticated, Redirect: loginURL})
}

// Forbidden tells an API caller its roles are insufficient.
func Forbidden(w http.ResponseWriter, fallbackURL string) {
	WriteJSON(w, http.StatusForbidden, Body{Error: "You don't have permission to do that.", Code: CodeForbidden, Redirect: fallbackURL})
}

// NotFound handles unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusNotFound, CodeNotFound, "not found")
}

// MethodNotAllowed handles known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
}
