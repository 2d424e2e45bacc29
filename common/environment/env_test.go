package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/myspaces/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	env := environment.OS()
	if got := env.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := env.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestString_DistinguishesEmptyFromUnset(t *testing.T) {
	env := environment.FromMap(map[string]string{"EMPTY": ""})
	if v, ok := env.String("EMPTY"); !ok || v != "" {
		t.Errorf("EMPTY: got (%q, %v), want (\"\", true)", v, ok)
	}
	if _, ok := env.String("UNSET"); ok {
		t.Error("UNSET: expected ok=false")
	}
}

func TestRequiredString(t *testing.T) {
	env := environment.FromMap(map[string]string{"TEST_REQUIRED": "value", "TEST_EMPTY": ""})
	v, err := env.RequiredString("TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}

	if _, err := env.RequiredString("TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable, got nil")
	}
	if _, err := env.RequiredString("TEST_EMPTY"); err == nil {
		t.Error("expected error for empty variable, got nil")
	}
}

func TestBoolOr(t *testing.T) {
	env := environment.FromMap(map[string]string{"T": "true", "F": "0", "BAD": "maybe"})
	if !env.BoolOr("T", false) {
		t.Error("expected true")
	}
	if env.BoolOr("F", true) {
		t.Error("expected false")
	}
	if !env.BoolOr("MISSING", true) {
		t.Error("expected default true")
	}
	if !env.BoolOr("BAD", true) {
		t.Error("expected default for unparsable value")
	}
}

func TestDurationOr(t *testing.T) {
	env := environment.FromMap(map[string]string{"DUR": "30s", "BAD": "soon"})
	if got := env.DurationOr("DUR", time.Minute); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	if got := env.DurationOr("MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected 1m, got %v", got)
	}
	if got := env.DurationOr("BAD", time.Minute); got != time.Minute {
		t.Errorf("expected 1m for bad value, got %v", got)
	}
}

func TestNew_NilFallsBackToOS(t *testing.T) {
	t.Setenv("TEST_NEW_NIL", "from-os")
	if got := environment.New(nil).StringOr("TEST_NEW_NIL", ""); got != "from-os" {
		t.Errorf("expected from-os, got %q", got)
	}
}
