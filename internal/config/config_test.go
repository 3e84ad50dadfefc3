package config

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// noEnvFile keeps Load from picking up a stray .env in the package dir.
var noEnvFile = map[string]any{"env_file": ""}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "server", cfg.Server.Name)
	assert.Equal(t, "gunicorn", cfg.Server.Command[0])
	assert.Equal(t, "subscriber", cfg.Subscriber.Name)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, syscall.SIGTERM, cfg.ShutdownSignal())
	assert.Equal(t, PolicyShutdown, cfg.Shutdown.OnChildExit)
	assert.True(t, cfg.Shutdown.ProcessGroup)
	assert.Empty(t, cfg.Status.Addr)

	children := cfg.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "server", children[0].Name)
	assert.Equal(t, "subscriber", children[1].Name)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load(Options{Overrides: noEnvFile})
	require.NoError(t, err)

	want := Default()
	want.EnvFile = ""
	assert.Equal(t, want, cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "tandem.toml", `
env_file = ""

[server]
command = "gunicorn -w 4 app:app"

[subscriber]
command = ["python", "-m", "worker"]
dir = "/srv"

[subscriber.env]
QUEUE = "jobs"

[shutdown]
timeout = "3s"
signal = "INT"
on_child_exit = "wait"
`)

	cfg, err := Load(Options{Path: path})
	require.NoError(t, err)

	assert.Equal(t, CommandLine{"gunicorn", "-w", "4", "app:app"}, cfg.Server.Command)
	assert.Equal(t, "server", cfg.Server.Name, "unset keys keep defaults")
	assert.Equal(t, CommandLine{"python", "-m", "worker"}, cfg.Subscriber.Command)
	assert.Equal(t, "/srv", cfg.Subscriber.Dir)
	assert.Equal(t, map[string]string{"QUEUE": "jobs"}, cfg.Subscriber.Env)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, syscall.SIGINT, cfg.ShutdownSignal())
	assert.Equal(t, PolicyWait, cfg.Shutdown.OnChildExit)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "tandem.yaml", `
env_file: ""
logging:
  level: debug
  format: json
status:
  addr: "127.0.0.1:9090"
`)

	cfg, err := Load(Options{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Status.Addr)
}

func TestLoad_Layering(t *testing.T) {
	path := writeFile(t, "tandem.toml", `
env_file = ""

[shutdown]
timeout = "3s"

[logging]
level = "warn"
`)
	t.Setenv("TANDEM_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("TANDEM_LOG_LEVEL", "error")

	cfg, err := Load(Options{
		Path:      path,
		Overrides: map[string]any{"logging.level": "debug"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout(), "env overrides file")
	assert.Equal(t, "debug", cfg.Logging.Level, "overrides beat env")
}

func TestLoad_EnvCommand(t *testing.T) {
	t.Setenv("TANDEM_SUBSCRIBER_COMMAND", "python -m other.subscriber")
	t.Setenv("TANDEM_SHUTDOWN_ON_CHILD_EXIT", "wait")

	cfg, err := Load(Options{Overrides: noEnvFile})
	require.NoError(t, err)

	assert.Equal(t, CommandLine{"python", "-m", "other.subscriber"}, cfg.Subscriber.Command)
	assert.Equal(t, PolicyWait, cfg.Shutdown.OnChildExit)
}

func TestLoad_EnvChildVariables(t *testing.T) {
	t.Setenv("TANDEM_SERVER_ENV_GUNICORN_WORKERS", "4")
	t.Setenv("TANDEM_SUBSCRIBER_ENV_Queue_Name", "jobs")

	cfg, err := Load(Options{Overrides: noEnvFile})
	require.NoError(t, err)

	assert.Equal(t, "4", cfg.Server.Env["GUNICORN_WORKERS"])
	assert.Equal(t, "jobs", cfg.Subscriber.Env["Queue_Name"])
}

func TestLoad_IgnoresUnrelatedPrefixedVariables(t *testing.T) {
	t.Setenv("TANDEM_UNRELATED_THING", "1")
	t.Setenv("TANDEM_VERSION", "2.0")

	cfg, err := Load(Options{Overrides: noEnvFile})
	require.NoError(t, err)
	assert.Equal(t, Default().Shutdown, cfg.Shutdown)
}

// unsetForTest clears key for the test and restores it afterwards.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_Dotenv(t *testing.T) {
	envFile := writeFile(t, ".env", "TANDEM_STATUS_ADDR=:9999\nTANDEM_LOG_LEVEL=debug\nAPP_GREETING=hello\n")
	unsetForTest(t, "TANDEM_STATUS_ADDR")
	unsetForTest(t, "APP_GREETING")
	t.Setenv("TANDEM_LOG_LEVEL", "warn")

	cfg, err := Load(Options{Overrides: map[string]any{"env_file": envFile}})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Status.Addr, "dotenv feeds the environment layer")
	assert.Equal(t, "warn", cfg.Logging.Level, "dotenv never overrides a set variable")
	assert.Equal(t, "hello", os.Getenv("APP_GREETING"))
}

func TestLoad_DotenvMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")

	_, err := Load(Options{Overrides: map[string]any{"env_file": missing}})
	assert.Error(t, err, "an explicitly named env file must exist")

	t.Chdir(t.TempDir())
	_, err = Load(Options{})
	assert.NoError(t, err, "the default .env is optional")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.toml")})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "tandem.ini", "x=1")

	_, err := Load(Options{Path: path})
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "tandem.toml", "env_file = \"\"\n[server]\ncomand = \"typo\"\n")

	_, err := Load(Options{Path: path})
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(Options{Overrides: map[string]any{
		"env_file":         "",
		"shutdown.timeout": "soon",
	}})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "shutdown.timeout", verr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"valid", func(*Config) {}, nil},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, []string{"logging.level"}},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, []string{"logging.format"}},
		{"empty command", func(c *Config) { c.Server.Command = nil }, []string{"server.command"}},
		{"empty name", func(c *Config) { c.Subscriber.Name = "" }, []string{"subscriber.name"}},
		{"duplicate name", func(c *Config) { c.Subscriber.Name = "server" }, []string{"subscriber.name"}},
		{"negative timeout", func(c *Config) { c.Shutdown.Timeout = "-1s" }, []string{"shutdown.timeout"}},
		{"bad signal", func(c *Config) { c.Shutdown.Signal = "SIGNOPE" }, []string{"shutdown.signal"}},
		{"bad policy", func(c *Config) { c.Shutdown.OnChildExit = "restart" }, []string{"shutdown.on_child_exit"}},
		{
			"several",
			func(c *Config) {
				c.Server.Command = nil
				c.Shutdown.Timeout = "x"
			},
			[]string{"server.command", "shutdown.timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var got []string
			for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
				var verr *ValidationError
				require.True(t, errors.As(e, &verr))
				got = append(got, verr.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestCommandLine_UnmarshalYAML(t *testing.T) {
	var v struct {
		A CommandLine `yaml:"a"`
		B CommandLine `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: python -m  app\nb: [gunicorn, \"app:app\"]\n"), &v))

	assert.Equal(t, CommandLine{"python", "-m", "app"}, v.A)
	assert.Equal(t, CommandLine{"gunicorn", "app:app"}, v.B)
	assert.Equal(t, "gunicorn app:app", v.B.String())

	err := yaml.Unmarshal([]byte("a: {x: 1}\n"), &v)
	assert.Error(t, err)
}

func TestChildConfig_Spec(t *testing.T) {
	cc := ChildConfig{
		Name:    "subscriber",
		Command: CommandLine{"python", "-m", "app.subscriber"},
		Dir:     "/srv/app",
		Env:     map[string]string{"QUEUE": "jobs", "HOME": "/tmp"},
	}

	spec := cc.Spec([]string{"HOME=/root", "PATH=/bin"})

	assert.Equal(t, "subscriber", spec.Name)
	assert.Equal(t, []string{"python", "-m", "app.subscriber"}, spec.Command)
	assert.Equal(t, "/srv/app", spec.Dir)
	assert.ElementsMatch(t, []string{"PATH=/bin", "HOME=/tmp", "QUEUE=jobs"}, spec.Env)

	spec.Command[0] = "changed"
	assert.Equal(t, "python", cc.Command[0], "Spec must copy the command")
}

func TestChildConfig_SpecInheritsEnv(t *testing.T) {
	cc := ChildConfig{Name: "server", Command: CommandLine{"true"}}
	assert.Nil(t, cc.Spec(nil).Env, "nil env inherits the supervisor environment")

	t.Setenv("TANDEM_SPEC_TEST", "1")
	cc.Env = map[string]string{"EXTRA": "x"}
	env := cc.Spec(nil).Env
	assert.Contains(t, env, "TANDEM_SPEC_TEST=1")
	assert.Contains(t, env, "EXTRA=x")
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "shutdown.signal", Message: "unknown signal"}
	assert.Equal(t, "invalid shutdown.signal: unknown signal", err.Error())
}
