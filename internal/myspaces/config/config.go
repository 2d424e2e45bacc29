// Package config loads my-spaces settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults
//  2. <root>/config.yaml, validated against an embedded JSON schema
//  3. MY_SPACES_* environment variables
//  4. command-line flags (applied by the CLI)
//
// The root directory itself comes from the --root flag, MY_SPACES_ROOT, or
// defaults to ~/.my-spaces.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/myspaces/common/environment"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/lifecycle"
	"github.com/bdobrica/myspaces/internal/myspaces/space"
)

// FileName is the configuration file looked up inside the root directory.
const FileName = "config.yaml"

// Environment variables.
const (
	EnvRoot         = "MY_SPACES_ROOT"
	EnvNamespace    = "MY_SPACES_NAMESPACE"
	EnvPublisher    = "MY_SPACES_PUBLISHER"
	EnvTemplate     = "MY_SPACES_TEMPLATE"
	EnvTokenEnv     = "MY_SPACES_TOKEN_ENV"
	EnvStopTimeout  = "MY_SPACES_STOP_TIMEOUT"
	EnvBuildTimeout = "MY_SPACES_BUILD_TIMEOUT"
	EnvLogLevel     = "MY_SPACES_LOG_LEVEL"
	EnvLogFormat    = "MY_SPACES_LOG_FORMAT"
	EnvHistory      = "MY_SPACES_HISTORY"
	EnvDockerHost   = "MY_SPACES_DOCKER_HOST"
)

// DefaultStopTimeout is the grace period between SIGINT and SIGKILL.
const DefaultStopTimeout = 10 * time.Second

// Config holds the resolved settings.
type Config struct {
	// Root is the directory my-spaces owns (descriptors, config, history).
	Root string
	// Namespace is the image name locally built spaces are tagged under.
	Namespace string
	// Publisher is the registry namespace of published spaces.
	Publisher string
	// TemplatePath is a descriptor template file; empty means the embedded one.
	TemplatePath string
	// TokenEnv names the variable holding the hub token.
	TokenEnv string
	// StopTimeout is the engine's grace period when stopping a container.
	StopTimeout time.Duration
	// BuildTimeout bounds a build or pull. Zero means no limit.
	BuildTimeout time.Duration
	LogLevel     string
	LogFormat    string
	// History enables the run history ledger at <root>/history.db.
	History bool
	// DockerHost overrides DOCKER_HOST when set.
	DockerHost string
}

// fileConfig mirrors config.yaml.
type fileConfig struct {
	Namespace    *string `yaml:"namespace"`
	Publisher    *string `yaml:"publisher"`
	Template     *string `yaml:"template"`
	TokenEnv     *string `yaml:"token_env"`
	StopTimeout  *string `yaml:"stop_timeout"`
	BuildTimeout *string `yaml:"build_timeout"`
	LogLevel     *string `yaml:"log_level"`
	LogFormat    *string `yaml:"log_format"`
	History      *bool   `yaml:"history"`
	DockerHost   *string `yaml:"docker_host"`
}

// Default returns the built-in settings for root.
func Default(root string) *Config {
	return &Config{
		Root:        root,
		Namespace:   space.DefaultNamespace,
		Publisher:   space.DefaultPublisher,
		TokenEnv:    lifecycle.DefaultTokenEnv,
		StopTimeout: DefaultStopTimeout,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// DefaultRoot returns ~/.my-spaces.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".my-spaces"
	}
	return filepath.Join(home, ".my-spaces")
}

// ResolveRoot picks the root directory: the explicit value, then
// MY_SPACES_ROOT, then the default.
func ResolveRoot(explicit string, env environment.Source) string {
	if explicit != "" {
		return explicit
	}
	return env.StringOr(EnvRoot, DefaultRoot())
}

// Load builds the configuration for root from defaults, the optional config
// file and the environment. A missing config file is not an error.
func Load(root string, env environment.Source) (*Config, error) {
	cfg := Default(root)

	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := cfg.applyFile(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", filepath.Join(root, FileName), err)
		}
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, fs.ErrPermission):
		return nil, errdefs.New(errdefs.ErrPermission, errdefs.PhaseSetup, err)
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(env)
	return cfg, nil
}

// Parse validates a config.yaml document and applies it on top of the
// defaults for root.
func Parse(root string, data []byte) (*Config, error) {
	cfg := Default(root)
	if err := cfg.applyFile(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(data []byte) error {
	if err := Validate(data); err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	setString(&c.Namespace, fc.Namespace)
	setString(&c.Publisher, fc.Publisher)
	setString(&c.TemplatePath, fc.Template)
	setString(&c.TokenEnv, fc.TokenEnv)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.DockerHost, fc.DockerHost)
	if fc.History != nil {
		c.History = *fc.History
	}
	if err := setDuration(&c.StopTimeout, fc.StopTimeout); err != nil {
		return fmt.Errorf("stop_timeout: %w", err)
	}
	if err := setDuration(&c.BuildTimeout, fc.BuildTimeout); err != nil {
		return fmt.Errorf("build_timeout: %w", err)
	}
	if c.TemplatePath != "" && !filepath.IsAbs(c.TemplatePath) {
		c.TemplatePath = filepath.Join(c.Root, c.TemplatePath)
	}
	return nil
}

func (c *Config) applyEnv(env environment.Source) {
	c.Namespace = env.StringOr(EnvNamespace, c.Namespace)
	c.Publisher = env.StringOr(EnvPublisher, c.Publisher)
	c.TemplatePath = env.StringOr(EnvTemplate, c.TemplatePath)
	c.TokenEnv = env.StringOr(EnvTokenEnv, c.TokenEnv)
	c.StopTimeout = env.DurationOr(EnvStopTimeout, c.StopTimeout)
	c.BuildTimeout = env.DurationOr(EnvBuildTimeout, c.BuildTimeout)
	c.LogLevel = strings.ToLower(env.StringOr(EnvLogLevel, c.LogLevel))
	c.LogFormat = strings.ToLower(env.StringOr(EnvLogFormat, c.LogFormat))
	c.History = env.BoolOr(EnvHistory, c.History)
	c.DockerHost = env.StringOr(EnvDockerHost, c.DockerHost)
}

// HistoryPath returns the ledger database path.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Root, "history.db")
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// --- schema ---

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://github.com/bdobrica/myspaces/config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load config schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks a config.yaml document against the schema.
func Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	// Round-trip through JSON so the validator sees JSON types only.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var jsonDoc any
	if err := dec.Decode(&jsonDoc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonDoc); err != nil {
		return fmt.Errorf("invalid: %w", err)
	}
	return nil
}
