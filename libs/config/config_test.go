package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{name: "unset", raw: "", want: 5 * time.Second},
		{name: "go duration", raw: "750ms", want: 750 * time.Millisecond},
		{name: "bare seconds", raw: "3", want: 3 * time.Second},
		{name: "garbage", raw: "soon", want: 5 * time.Second},
		{name: "negative", raw: "-2s", want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_TIMEOUT", tt.raw)
			assert.Equal(t, tt.want, Duration("TEST_TIMEOUT", 5*time.Second))
		})
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("TEST_LIMIT", "25")
	t.Setenv("TEST_FLAG", "yes")
	assert.Equal(t, 25, Int("TEST_LIMIT", 100))
	assert.True(t, Bool("TEST_FLAG", false))

	t.Setenv("TEST_LIMIT", "0")
	t.Setenv("TEST_FLAG", "maybe")
	assert.Equal(t, 100, Int("TEST_LIMIT", 100))
	assert.False(t, Bool("TEST_FLAG", false))
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	_, err := Port("TEST_PORT", "8080")
	require.Error(t, err)

	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8080")
	require.NoError(t, err)
	assert.Equal(t, "8080", p)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_A=from-file\nDOTENV_B=from-file\n"), 0o600))

	t.Setenv("DOTENV_A", "from-env")
	t.Setenv("DOTENV_B", "")
	require.NoError(t, os.Unsetenv("DOTENV_B"))
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_B") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_B"))
}
