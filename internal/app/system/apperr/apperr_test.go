package apperr_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
)

func TestValidationError_OrNil(t *testing.T) {
	ve := &apperr.ValidationError{}
	ve.Require("name", "   ")
	ve.Require("description", "ok")

	err := ve.OrNil()
	if err == nil {
		t.Fatal("expected error for blank name")
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Field != "name" {
		t.Errorf("Fields: got %+v, want one entry for name", ve.Fields)
	}
	if !apperr.IsValidation(fmt.Errorf("wrapped: %w", err)) {
		t.Error("expected IsValidation through wrapping")
	}

	clean := &apperr.ValidationError{}
	clean.Require("name", "x")
	if clean.OrNil() != nil {
		t.Error("expected nil when all checks pass")
	}
}

func TestStore_WrapsOnce(t *testing.T) {
	cause := errors.New("connection reset")
	err := apperr.Store("insert", "projects", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable with errors.Is")
	}
	again := apperr.Store("update", "projects", err)
	if again != err {
		t.Error("expected an existing StoreError to be returned unchanged")
	}
	if apperr.Store("insert", "projects", nil) != nil {
		t.Error("expected nil for nil cause")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{apperr.Auth("invalid credentials", nil), "auth: invalid credentials"},
		{&apperr.LookupError{UserID: "u1", Err: errors.New("timeout")}, "role lookup for u1 failed: timeout"},
		{&apperr.TransportDiscontinuity{Collection: "inventory", Err: errors.New("eof")}, "change feed inventory interrupted: eof"},
	}
	for _, c := range cases {
		if !strings.Contains(c.err.Error(), c.want) {
			t.Errorf("Error(): got %q, want it to contain %q", c.err.Error(), c.want)
		}
	}
}
