// Package environment provides helpers for loading configuration from environment variables.
//
// Values are read through a Source so that callers which need the process
// environment use OS(), while tests and embedded callers can supply a fixed
// map with FromMap. Required variables return an error rather than calling
// os.Exit, keeping business logic out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Lookup reads a single variable. os.LookupEnv satisfies it.
type Lookup func(name string) (string, bool)

// Source reads typed values through a Lookup.
type Source struct {
	lookup Lookup
}

// OS returns a Source backed by the process environment.
func OS() Source {
	return Source{lookup: os.LookupEnv}
}

// FromMap returns a Source backed by a fixed set of variables.
func FromMap(vars map[string]string) Source {
	return Source{lookup: func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}}
}

// New returns a Source backed by an arbitrary lookup function. A nil lookup
// falls back to the process environment.
func New(lookup Lookup) Source {
	if lookup == nil {
		return OS()
	}
	return Source{lookup: lookup}
}

func (s Source) get(name string) string {
	if s.lookup == nil {
		return os.Getenv(name)
	}
	v, _ := s.lookup(name)
	return v
}

// String returns the value of the named variable and a boolean indicating
// whether it was set (even if set to the empty string).
func (s Source) String(name string) (string, bool) {
	if s.lookup == nil {
		return os.LookupEnv(name)
	}
	return s.lookup(name)
}

// StringOr returns the value of the named variable, or defaultValue if the
// variable is unset or empty.
func (s Source) StringOr(name, defaultValue string) string {
	if v := s.get(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named variable or an error if it is
// unset or empty.
func (s Source) RequiredString(name string) (string, error) {
	v := s.get(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses the named variable as a boolean. Recognized values are the
// same as strconv.ParseBool. Returns defaultValue if the variable is unset,
// empty, or cannot be parsed.
func (s Source) BoolOr(name string, defaultValue bool) bool {
	v := s.get(name)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// DurationOr parses the named variable as a time.Duration (e.g. "30s", "5m").
// Returns defaultValue if the variable is unset, empty, or cannot be parsed.
func (s Source) DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := s.get(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
