package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/core/config"
)

func TestFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("CRYSTAL_PROJECT_PATH", "")
	t.Setenv("CRYSTAL_HOST", "")
	t.Setenv("CRYSTAL_PORT", "")

	c, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, config.DefaultPort, c.Port)
	assert.Equal(t, "info", c.LogLevel)
}

func TestFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("CRYSTAL_HOST", "0.0.0.0")
	t.Setenv("CRYSTAL_PORT", "9000")
	t.Setenv("CRYSTAL_READONLY", "true")

	c, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 9000, c.Port)
	assert.True(t, c.ReadOnly)
}

func TestParseFlagsOverridesEnv(t *testing.T) {
	c, err := config.FromEnv()
	require.NoError(t, err)

	err = c.ParseFlags([]string{"--host", "0.0.0.0", "--port", "8080", "--readonly", "/tmp/my.crystalproj"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 8080, c.Port)
	assert.True(t, c.ReadOnly)
	assert.Equal(t, "/tmp/my.crystalproj", c.ProjectPath)
}

func TestBindAddress(t *testing.T) {
	c := &config.Config{Host: "127.0.0.1", Port: 2797}
	assert.Equal(t, "127.0.0.1:2797", c.BindAddress())
}
