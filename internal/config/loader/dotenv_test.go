package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TANDEM_DOTENV_NEW=from-file\nTANDEM_DOTENV_KEEP=from-file\n"), 0o600))

	t.Setenv("TANDEM_DOTENV_KEEP", "from-env")
	// Registered so t restores the unset state afterwards.
	t.Setenv("TANDEM_DOTENV_NEW", "")
	require.NoError(t, os.Unsetenv("TANDEM_DOTENV_NEW"))

	set, err := LoadDotenv(path, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"TANDEM_DOTENV_NEW"}, set)
	assert.Equal(t, "from-file", os.Getenv("TANDEM_DOTENV_NEW"))
	assert.Equal(t, "from-env", os.Getenv("TANDEM_DOTENV_KEEP"), "existing variables win")
}

func TestLoadDotenv_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")

	set, err := LoadDotenv(missing, false)
	assert.NoError(t, err)
	assert.Empty(t, set)

	_, err = LoadDotenv(missing, true)
	assert.Error(t, err)
}

func TestLoadDotenv_EmptyPath(t *testing.T) {
	set, err := LoadDotenv("", true)
	assert.NoError(t, err)
	assert.Nil(t, set)
}
