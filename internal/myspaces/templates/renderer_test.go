package templates_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/templates"
)

func TestRender_SubstitutesRepoURL(t *testing.T) {
	got, err := templates.Render("RUN git clone {{ .repo_url }} /app\n", "https://host/org/gpt-demo")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "RUN git clone https://host/org/gpt-demo /app\n" {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestRender_NoEscaping(t *testing.T) {
	got, err := templates.Render("{{ .repo_url }}", "https://host/a?b=1&c=<2>")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "https://host/a?b=1&c=<2>" {
		t.Errorf("identifier must be substituted literally, got %q", got)
	}
}

func TestRender_UnknownPlaceholder(t *testing.T) {
	_, err := templates.Render("FROM {{ .base_image }}\nRUN git clone {{ .repo_url }}\n", "https://host/org/x")
	if !errors.Is(err, errdefs.ErrTemplate) {
		t.Fatalf("expected ErrTemplate, got %v", err)
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := templates.Render("RUN {{ .repo_url ", "x")
	if !errors.Is(err, errdefs.ErrTemplate) {
		t.Fatalf("expected ErrTemplate, got %v", err)
	}
}

func TestDefaultTemplate_Renders(t *testing.T) {
	got, err := templates.Render(templates.DefaultTemplate(), "https://huggingface.co/spaces/org/gpt-demo")
	if err != nil {
		t.Fatalf("Render default template: %v", err)
	}
	if !strings.Contains(got, "git clone --depth 1 https://huggingface.co/spaces/org/gpt-demo .") {
		t.Errorf("default template did not clone the repository:\n%s", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unrendered action left in output:\n%s", got)
	}
}

func TestLoad(t *testing.T) {
	def, err := templates.Load("")
	if err != nil || def != templates.DefaultTemplate() {
		t.Fatalf("Load(\"\") should return the default template, err=%v", err)
	}

	path := filepath.Join(t.TempDir(), "Dockerfile")
	if err := os.WriteFile(path, []byte("FROM scratch # {{ .repo_url }}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := templates.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "FROM scratch # {{ .repo_url }}" {
		t.Errorf("unexpected template: %q", got)
	}

	if _, err := templates.Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, errdefs.ErrTemplate) {
		t.Errorf("expected ErrTemplate for missing file, got %v", err)
	}
}
