// Package templates renders the build descriptor (a Dockerfile) for a space
// from a template and the space's source identifier.
//
// Templates use Go text/template syntax and see a single variable:
//
//	RUN git clone --depth 1 {{ .repo_url }} .
//
// A default template is embedded in the binary; operators can point
// my-spaces at their own file instead.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

// Placeholder is the only variable a descriptor template may reference.
const Placeholder = "repo_url"

//go:embed Dockerfile.tmpl
var defaultTemplate string

// DefaultTemplate returns the embedded descriptor template.
func DefaultTemplate() string {
	return defaultTemplate
}

// Load returns the template stored at path, or the embedded default when
// path is empty.
func Load(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		kind := errdefs.ErrTemplate
		if errors.Is(err, fs.ErrPermission) {
			kind = errdefs.ErrPermission
		}
		return "", errdefs.New(kind, errdefs.PhaseRender, fmt.Errorf("template %q: %w", path, err))
	}
	return string(raw), nil
}

// Render substitutes identifier for {{ .repo_url }} in templateText. No
// escaping is applied. Referencing any other variable is an error rather than
// an empty substitution.
func Render(templateText, identifier string) (string, error) {
	// Option "missingkey=error" causes the template to fail loudly if it
	// references a variable other than repo_url, instead of silently
	// inserting "<no value>".
	tmpl, err := template.New("descriptor").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return "", errdefs.New(errdefs.ErrTemplate, errdefs.PhaseRender, fmt.Errorf("parse: %w", err))
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, map[string]string{Placeholder: identifier}); err != nil {
		return "", errdefs.New(errdefs.ErrTemplate, errdefs.PhaseRender, fmt.Errorf("render: %w", err))
	}
	return buf.String(), nil
}
