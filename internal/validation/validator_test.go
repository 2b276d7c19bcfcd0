// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package validation

import "testing"

type loginForm struct {
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestStructValid(t *testing.T) {
	errs := Struct(loginForm{Username: "alice", Password: "hunter2222"})
	if errs != nil {
		t.Errorf("Struct on valid input returned %v", errs)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	errs := Struct(loginForm{Username: "al", Password: ""})
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}

	byField := make(map[string]string, len(errs))
	for _, e := range errs {
		byField[e.Field] = e.Constraint
	}
	if byField["username"] != "min" {
		t.Errorf("username constraint = %q, want min", byField["username"])
	}
	if byField["password"] != "required" {
		t.Errorf("password constraint = %q, want required", byField["password"])
	}
}
