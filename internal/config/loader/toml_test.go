package loader

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/tandem.toml", `
env_file = "/app/.env"

[server]
command = "gunicorn --config gunicorn_conf.py app.main:app"

[subscriber]
command = ["python", "-m", "app.subscriber"]

[shutdown]
timeout = "15s"
process_group = false
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/tandem.toml").Load()
	require.NoError(t, err)

	assert.Equal(t, "/app/.env", config["env_file"])

	cmd, ok := GetPath(config, "server.command")
	require.True(t, ok)
	assert.Equal(t, "gunicorn --config gunicorn_conf.py app.main:app", cmd)

	cmd, ok = GetPath(config, "subscriber.command")
	require.True(t, ok)
	assert.Equal(t, []any{"python", "-m", "app.subscriber"}, cmd)

	group, ok := GetPath(config, "shutdown.process_group")
	require.True(t, ok)
	assert.Equal(t, false, group)
}

func TestTOMLLoader_MissingFile(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "/nope.toml").Load()
	assert.NoError(t, err)
	assert.Nil(t, config)
}

func TestTOMLLoader_ParseError(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.toml", "[server]\ncommand = \n")

	_, err := NewTOMLLoaderWithFS(memfs, "/bad.toml").Load()

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/bad.toml", perr.Path)
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, perr.Error(), "line 2")
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	config, err := NewTOMLLoader("").LoadFromReader(strings.NewReader(`[logging]
level = "debug"`))
	require.NoError(t, err)

	level, ok := GetPath(config, "logging.level")
	require.True(t, ok)
	assert.Equal(t, "debug", level)
}

func TestForPath(t *testing.T) {
	memfs := NewMemFS()

	l, err := ForPath(memfs, "/etc/tandem.toml")
	require.NoError(t, err)
	assert.IsType(t, &TOMLLoader{}, l)

	l, err = ForPath(memfs, "tandem.YML")
	require.NoError(t, err)
	assert.IsType(t, &YAMLLoader{}, l)

	_, err = ForPath(memfs, "tandem.json")
	assert.Error(t, err)
}
