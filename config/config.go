// Package config loads bridge settings, globals, mounted files and
// pre-loaded modules from a YAML file.
package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/errors"
)

// EnvTimeout overrides the configured timeout when set, e.g. "250ms".
const EnvTimeout = "LUABRIDGE_TIMEOUT"

// Config is the top-level configuration file.
type Config struct {
	StandardLibs  *bool          `yaml:"standard_libs"`
	HostInjection *bool          `yaml:"host_injection"`
	Globals       map[string]any `yaml:"globals"`
	Mounts        []Mount        `yaml:"mounts"`
	Modules       []Module       `yaml:"modules"`
	Timeout       time.Duration  `yaml:"timeout"`
	WASM          bool           `yaml:"wasm"`

	// dir resolves relative source paths.
	dir string
}

// Mount is a file placed in the virtual filesystem. Exactly one of Content
// and Source is set; Source is a host path relative to the config file.
type Mount struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
	Source  string `yaml:"source"`
}

// Module is pre-loaded into package.loaded. Exactly one of Code and Source
// is set.
type Module struct {
	Name   string `yaml:"name"`
	Code   string `yaml:"code"`
	Source string `yaml:"source"`
}

// LoadConfig reads a YAML file and returns a validated Config.
// Environment variables referenced as ${VAR} or $VAR are expanded in global
// string values, mount paths and source paths. Inline Lua (mount content
// and module code) is kept verbatim. EnvTimeout overrides the timeout.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Name(path).
			Detail("read config").
			Cause(err).
			Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes and validates configuration data. Relative sources resolve
// against the working directory.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}
	cfg.expandEnv()

	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Name(EnvTimeout).
				Detail("invalid duration %q", v).
				Cause(err).
				Build()
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandEnv substitutes environment variables in the settings that name
// things on the host. Lua source is left alone, since "$" is ordinary text
// there.
func (c *Config) expandEnv() {
	for name, v := range c.Globals {
		c.Globals[name] = expandValue(v)
	}
	for i := range c.Mounts {
		c.Mounts[i].Path = os.ExpandEnv(c.Mounts[i].Path)
		c.Mounts[i].Source = os.ExpandEnv(c.Mounts[i].Source)
	}
	for i := range c.Modules {
		c.Modules[i].Source = os.ExpandEnv(c.Modules[i].Source)
	}
}

func expandValue(v any) any {
	switch x := v.(type) {
	case string:
		return os.ExpandEnv(x)
	case map[string]any:
		for k, e := range x {
			x[k] = expandValue(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = expandValue(e)
		}
		return x
	default:
		return v
	}
}

// LoadDotEnv loads environment variables from path. Missing files are
// ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if stderrors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return invalid("timeout must not be negative")
	}

	for i, m := range c.Mounts {
		if m.Path == "" {
			return invalidf("mount %d: path is required", i)
		}
		if (m.Content == "") == (m.Source == "") {
			return invalidf("mount %q: exactly one of content and source is required", m.Path)
		}
	}

	names := make(map[string]struct{}, len(c.Modules))
	for i, m := range c.Modules {
		if m.Name == "" {
			return invalidf("module %d: name is required", i)
		}
		if (m.Code == "") == (m.Source == "") {
			return invalidf("module %q: exactly one of code and source is required", m.Name)
		}
		if _, dup := names[m.Name]; dup {
			return invalidf("duplicate module name %q", m.Name)
		}
		names[m.Name] = struct{}{}
	}
	return nil
}

// Options converts the settings to bridge options. Unset fields keep the
// bridge defaults.
func (c Config) Options() []bridge.Option {
	var opts []bridge.Option
	if c.Timeout > 0 {
		opts = append(opts, bridge.WithTimeout(c.Timeout))
	}
	if c.StandardLibs != nil {
		opts = append(opts, bridge.WithStandardLibs(*c.StandardLibs))
	}
	if c.HostInjection != nil {
		opts = append(opts, bridge.WithHostInjection(*c.HostInjection))
	}
	if c.WASM {
		opts = append(opts, bridge.WithWASM(true))
	}
	return opts
}

// Bootstrap mounts the configured files and loads the configured modules,
// in file order.
func (c Config) Bootstrap(ctx context.Context, b *bridge.Bridge) error {
	for _, m := range c.Mounts {
		content, err := c.source(m.Content, m.Source)
		if err != nil {
			return err
		}
		if err := b.MountFile(ctx, m.Path, content); err != nil {
			return err
		}
	}
	for _, m := range c.Modules {
		code, err := c.source(m.Code, m.Source)
		if err != nil {
			return err
		}
		if err := b.LoadModule(ctx, m.Name, code); err != nil {
			return err
		}
	}
	return nil
}

// Create builds an initialized and bootstrapped bridge. extra options are
// applied after the configured ones.
func (c Config) Create(ctx context.Context, extra ...bridge.Option) (*bridge.Bridge, error) {
	b, err := bridge.Create(ctx, c.Globals, append(c.Options(), extra...)...)
	if err != nil {
		return nil, err
	}
	if err := c.Bootstrap(ctx, b); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (c Config) source(inline, path string) (string, error) {
	if path == "" {
		return inline, nil
	}
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // sources are listed in trusted configuration
	if err != nil {
		return "", errors.New(errors.PhaseConfig, errors.KindNotFound).
			Name(path).
			Detail("read source").
			Cause(err).
			Build()
	}
	return string(data), nil
}

func invalid(detail string) error {
	return errors.InvalidInput(errors.PhaseConfig, detail)
}

func invalidf(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
}
