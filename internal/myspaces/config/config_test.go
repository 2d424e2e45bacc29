package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/myspaces/common/environment"
	"github.com/bdobrica/myspaces/internal/myspaces/lifecycle"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root, environment.FromMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != root {
		t.Errorf("Root = %q, want %q", cfg.Root, root)
	}
	if cfg.Namespace != "my-spaces" || cfg.Publisher != "zuppif" {
		t.Errorf("namespace/publisher = %q/%q", cfg.Namespace, cfg.Publisher)
	}
	if cfg.TokenEnv != lifecycle.DefaultTokenEnv {
		t.Errorf("TokenEnv = %q", cfg.TokenEnv)
	}
	if cfg.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v", cfg.StopTimeout)
	}
	if cfg.BuildTimeout != 0 {
		t.Errorf("BuildTimeout = %v, want 0", cfg.BuildTimeout)
	}
	if cfg.History {
		t.Error("History should default to false")
	}
	if cfg.TemplatePath != "" {
		t.Errorf("TemplatePath = %q, want empty", cfg.TemplatePath)
	}
}

func TestLoad_File(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
namespace: lab-spaces
publisher: acme
template: custom.Dockerfile.tmpl
stop_timeout: 30s
build_timeout: 45m
log_level: debug
log_format: json
history: true
`)
	cfg, err := Load(root, environment.FromMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "lab-spaces" || cfg.Publisher != "acme" {
		t.Errorf("namespace/publisher = %q/%q", cfg.Namespace, cfg.Publisher)
	}
	if want := filepath.Join(root, "custom.Dockerfile.tmpl"); cfg.TemplatePath != want {
		t.Errorf("TemplatePath = %q, want %q", cfg.TemplatePath, want)
	}
	if cfg.StopTimeout != 30*time.Second || cfg.BuildTimeout != 45*time.Minute {
		t.Errorf("timeouts = %v/%v", cfg.StopTimeout, cfg.BuildTimeout)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || !cfg.History {
		t.Errorf("unexpected logging/history: %+v", cfg)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "namespace: from-file\nstop_timeout: 30s\n")

	env := environment.FromMap(map[string]string{
		EnvNamespace:   "from-env",
		EnvStopTimeout: "2s",
		EnvHistory:     "true",
		EnvLogLevel:    "WARN",
	})
	cfg, err := Load(root, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "from-env" {
		t.Errorf("Namespace = %q, want from-env", cfg.Namespace)
	}
	if cfg.StopTimeout != 2*time.Second {
		t.Errorf("StopTimeout = %v, want 2s", cfg.StopTimeout)
	}
	if !cfg.History {
		t.Error("History should be enabled by env")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "")
	if _, err := Load(root, environment.FromMap(nil)); err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "colour: blue\n"},
		{"bad duration", "stop_timeout: soon\n"},
		{"bad level", "log_level: loud\n"},
		{"bad namespace", "namespace: My Spaces\n"},
		{"bad token env", "token_env: 1TOKEN\n"},
		{"wrong type", "history: maybe\n"},
		{"not a mapping", "- a\n- b\n"},
		{"malformed", "namespace: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("/tmp/root", []byte(tt.body)); err == nil {
				t.Fatalf("expected error for %q", tt.body)
			}
		})
	}
}

func TestParse_AbsoluteTemplateKept(t *testing.T) {
	cfg, err := Parse("/srv/spaces", []byte("template: /etc/my-spaces/Dockerfile.tmpl\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.TemplatePath != "/etc/my-spaces/Dockerfile.tmpl" {
		t.Errorf("TemplatePath = %q", cfg.TemplatePath)
	}
}

func TestLoad_ErrorNamesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "log_format: xml\n")
	_, err := Load(root, environment.FromMap(nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), FileName) {
		t.Errorf("error %q should name the config file", err)
	}
}

func TestResolveRoot(t *testing.T) {
	env := environment.FromMap(map[string]string{EnvRoot: "/from/env"})
	if got := ResolveRoot("/explicit", env); got != "/explicit" {
		t.Errorf("explicit root = %q", got)
	}
	if got := ResolveRoot("", env); got != "/from/env" {
		t.Errorf("env root = %q", got)
	}
	if got := ResolveRoot("", environment.FromMap(nil)); !strings.HasSuffix(got, ".my-spaces") {
		t.Errorf("default root = %q", got)
	}
}
