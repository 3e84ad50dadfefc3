package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// DefaultEnvPrefix is the prefix of tandem's own environment variables.
const DefaultEnvPrefix = "TANDEM_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "TANDEM_")
	mapping map[string]string // Env var -> config path
	ignore  map[string]bool   // Prefixed vars that are not settings
	// sections, when set, limits unmapped vars to these top-level keys.
	sections map[string]bool
	environ  func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "TANDEM_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		ignore:  map[string]bool{prefix + "CONFIG": true},
		environ: os.Environ,
	}
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	l := NewEnvLoader(prefix)
	l.mapping = mapping
	return l
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"TANDEM_LOG_LEVEL":  "logging.level",
		"TANDEM_LOG_FORMAT": "logging.format",
		"TANDEM_ENV_FILE":   "env_file",
	}
}

// Load reads environment variables and returns a configuration map.
// Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for env, path := range l.mapping {
		if val, ok := os.LookupEnv(env); ok {
			setByPath(config, path, l.parseValue(val))
		}
	}

	for _, env := range l.environ() {
		if !strings.HasPrefix(env, l.prefix) {
			continue
		}

		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if _, mapped := l.mapping[name]; mapped || l.ignore[name] {
			continue
		}

		path := l.envToPath(name)
		section, _, _ := strings.Cut(path, ".")
		if l.sections != nil && !l.sections[section] {
			continue
		}

		// Child environment values are passed through verbatim.
		if isChildEnvPath(path) {
			setByPath(config, path, value)
			continue
		}
		setByPath(config, path, l.parseValue(value))
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// SetSections restricts unmapped variables to the given top-level keys.
// Prefixed variables naming any other section are ignored.
func (l *EnvLoader) SetSections(sections ...string) {
	l.sections = make(map[string]bool, len(sections))
	for _, sec := range sections {
		l.sections[sec] = true
	}
}

// envToPath converts TANDEM_SHUTDOWN_ON_CHILD_EXIT to shutdown.on_child_exit:
// the first word is the section, the rest is the snake_case key.
// TANDEM_SERVER_ENV_WORKERS becomes server.env.WORKERS, keeping the
// variable name's case.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	section, key, found := strings.Cut(name, "_")
	section = strings.ToLower(section)
	if !found {
		return section
	}
	if varName, ok := strings.CutPrefix(key, "ENV_"); ok && varName != "" {
		return section + ".env." + varName
	}
	return section + "." + strings.ToLower(key)
}

func isChildEnvPath(path string) bool {
	parts := splitPath(path)
	return len(parts) == 3 && parts[1] == "env"
}

// parseValue converts booleans, integers, floats and JSON arrays or
// objects. Everything else, durations included, stays a string.
func (l *EnvLoader) parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := splitPath(path)
	current := data

	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			next := make(map[string]any)
			current[part] = next
			current = next
		}
	}

	current[parts[len(parts)-1]] = value
}

// GetEnvOrDefault returns the environment variable value or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
