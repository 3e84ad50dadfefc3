package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/tandem/internal/config/loader"
	"github.com/dshills/tandem/internal/process"
)

// ExitPolicy decides what an unsolicited child exit does.
type ExitPolicy string

const (
	// PolicyShutdown terminates the remaining child when any child exits.
	PolicyShutdown ExitPolicy = "shutdown"
	// PolicyWait logs the exit and keeps waiting for a signal or for the
	// other child to exit too.
	PolicyWait ExitPolicy = "wait"
)

// Config is the resolved supervisor configuration.
type Config struct {
	EnvFile    string         `yaml:"env_file"`
	Logging    LoggingConfig  `yaml:"logging"`
	Server     ChildConfig    `yaml:"server"`
	Subscriber ChildConfig    `yaml:"subscriber"`
	Shutdown   ShutdownConfig `yaml:"shutdown"`
	Status     StatusConfig   `yaml:"status"`
}

// LoggingConfig configures the supervisor's own log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// ChildConfig describes one child process.
type ChildConfig struct {
	Name    string            `yaml:"name"`
	Command CommandLine       `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
}

// ShutdownConfig controls termination.
type ShutdownConfig struct {
	Timeout      string     `yaml:"timeout"`
	Signal       string     `yaml:"signal"`
	OnChildExit  ExitPolicy `yaml:"on_child_exit"`
	ProcessGroup bool       `yaml:"process_group"`
}

// StatusConfig configures the HTTP status server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// CommandLine is argv. In files and the environment it may be written as
// a list or as a single whitespace-separated string.
type CommandLine []string

// UnmarshalYAML accepts a scalar or a sequence.
func (c *CommandLine) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(value.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := value.Decode(&argv); err != nil {
			return err
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", value.Line)
	}
}

// String joins the command for display.
func (c CommandLine) String() string {
	return strings.Join(c, " ")
}

// Default returns the built-in configuration: gunicorn serving the web
// app and the Python subscriber module.
func Default() *Config {
	return &Config{
		EnvFile: ".env",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ChildConfig{
			Name:    "server",
			Command: CommandLine{"gunicorn", "--config", "gunicorn_conf.py", "app.main:app"},
		},
		Subscriber: ChildConfig{
			Name:    "subscriber",
			Command: CommandLine{"python", "-m", "app.subscriber"},
		},
		Shutdown: ShutdownConfig{
			Timeout:      process.DefaultShutdownTimeout.String(),
			Signal:       "SIGTERM",
			OnChildExit:  PolicyShutdown,
			ProcessGroup: true,
		},
	}
}

// Children returns the two children in spawn order.
func (c *Config) Children() []ChildConfig {
	return []ChildConfig{c.Server, c.Subscriber}
}

// ShutdownTimeout returns the parsed shutdown timeout.
// It is only meaningful on a validated Config.
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Shutdown.Timeout)
	return d
}

// ShutdownSignal returns the parsed termination signal.
// It is only meaningful on a validated Config.
func (c *Config) ShutdownSignal() syscall.Signal {
	sig, err := process.ParseSignal(c.Shutdown.Signal)
	if err != nil {
		return syscall.SIGTERM
	}
	return sig
}

// Spec converts the child into a process spec. The child environment is
// base with the child's own Env applied on top.
func (cc ChildConfig) Spec(base []string) process.Spec {
	return process.Spec{
		Name:    cc.Name,
		Command: append([]string(nil), cc.Command...),
		Dir:     cc.Dir,
		Env:     mergeEnv(base, cc.Env),
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	if base == nil {
		base = os.Environ()
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	for key, val := range overrides {
		env = append(env, key+"="+val)
	}
	return env
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		add("logging.format", "must be console or json, got %q", c.Logging.Format)
	}

	seen := make(map[string]string)
	for _, sc := range []struct {
		section string
		child   ChildConfig
	}{{"server", c.Server}, {"subscriber", c.Subscriber}} {
		section, child := sc.section, sc.child
		if child.Name == "" {
			add(section+".name", "must not be empty")
		} else if other, dup := seen[child.Name]; dup {
			add(section+".name", "duplicates %s.name %q", other, child.Name)
		} else {
			seen[child.Name] = section
		}
		if len(child.Command) == 0 {
			add(section+".command", "must not be empty")
		}
	}

	if d, err := time.ParseDuration(c.Shutdown.Timeout); err != nil {
		add("shutdown.timeout", "invalid duration %q", c.Shutdown.Timeout)
	} else if d < 0 {
		add("shutdown.timeout", "must not be negative")
	}
	if _, err := process.ParseSignal(c.Shutdown.Signal); err != nil {
		add("shutdown.signal", "%v", err)
	}
	switch c.Shutdown.OnChildExit {
	case PolicyShutdown, PolicyWait:
	default:
		add("shutdown.on_child_exit", "must be %q or %q, got %q", PolicyShutdown, PolicyWait, c.Shutdown.OnChildExit)
	}

	return errors.Join(errs...)
}

// Options controls Load.
type Options struct {
	// Path is the config file. Empty means no file.
	Path string
	// EnvPrefix defaults to loader.DefaultEnvPrefix.
	EnvPrefix string
	// Overrides is the command-line layer, keyed by dotted path.
	Overrides map[string]any
	// FS defaults to the OS file system.
	FS loader.FileSystem
}

// Load resolves configuration from defaults, the config file, the
// dotenv file, the environment and Overrides, in that order, and
// validates the result.
func Load(opts Options) (*Config, error) {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = loader.DefaultEnvPrefix
	}
	if opts.FS == nil {
		opts.FS = loader.DefaultFS()
	}

	fileLayer, err := loadFile(opts.FS, opts.Path)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]any)
	for path, val := range opts.Overrides {
		loader.SetPath(overrides, path, val)
	}

	envLoader := loader.NewEnvLoader(opts.EnvPrefix)
	envLoader.SetSections("logging", "server", "subscriber", "shutdown", "status")
	envLayer, err := envLoader.Load()
	if err != nil {
		return nil, err
	}

	// The dotenv file may itself set prefixed variables, so the
	// environment layer is read again afterwards.
	envFile, explicit := resolveEnvFile(fileLayer, envLayer, overrides)
	if _, err := loader.LoadDotenv(envFile, explicit); err != nil {
		return nil, err
	}
	if envLayer, err = envLoader.Load(); err != nil {
		return nil, err
	}

	merged := loader.DeepMerge(loader.DeepMerge(fileLayer, envLayer), overrides)

	cfg := Default()
	if err := decode(merged, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(fsys loader.FileSystem, path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := fsys.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	l, err := loader.ForPath(fsys, path)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// resolveEnvFile finds env_file in the highest layer that sets it.
func resolveEnvFile(layers ...map[string]any) (string, bool) {
	path, explicit := Default().EnvFile, false
	for _, layer := range layers {
		if v, ok := layer["env_file"]; ok {
			path, explicit = fmt.Sprint(v), true
		}
	}
	return path, explicit
}

// decode applies a merged map onto cfg. Keys absent from the map keep
// the values already in cfg.
func decode(merged map[string]any, cfg *Config) error {
	if len(merged) == 0 {
		return nil
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding merged config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}
