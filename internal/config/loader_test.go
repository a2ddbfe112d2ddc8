package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestResolveConfigDir(t *testing.T) {
	t.Run("environment override", func(t *testing.T) {
		t.Setenv(ConfigDirEnv, "/tmp/custom-mcpauth")
		dir, err := ResolveConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/custom-mcpauth", dir)
	})

	t.Run("home directory default", func(t *testing.T) {
		t.Setenv(ConfigDirEnv, "")
		original := osUserHomeDir
		defer func() { osUserHomeDir = original }()
		osUserHomeDir = func() (string, error) { return "/home/test", nil }

		dir, err := ResolveConfigDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/home/test", ".config", "mcpauth"), dir)
	})

	t.Run("home directory error", func(t *testing.T) {
		t.Setenv(ConfigDirEnv, "")
		original := osUserHomeDir
		defer func() { osUserHomeDir = original }()
		osUserHomeDir = func() (string, error) { return "", os.ErrNotExist }

		_, err := ResolveConfigDir()
		assert.Error(t, err)
	})
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
	assert.Equal(t, 3000, config.CallbackPort)
	assert.Equal(t, "mcpauth", config.ClientName)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
callbackPort: 4100
servers:
  docs:
    url: https://mcp.example.com
    clientId: docs-client
    scopes: [read, write]
`)

	config, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 4100, config.CallbackPort)
	assert.Equal(t, DefaultClientName, config.ClientName, "unset fields keep defaults")

	server, ok := config.Server("docs")
	require.True(t, ok)
	assert.Equal(t, "https://mcp.example.com", server.URL)
	assert.Equal(t, "docs-client", server.ClientID)
	assert.Equal(t, []string{"read", "write"}, server.Scopes)
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "servers: [not: a map")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var configErr ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "parse", configErr.ErrorType)
	assert.Equal(t, configFileName, configErr.FileName)
	assert.NotEmpty(t, configErr.Suggestions)
	assert.Contains(t, configErr.DetailedError(), "Suggestions:")
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
servers:
  docs:
    url: http://mcp.example.com
`)

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var configErr ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "validation", configErr.ErrorType)
	assert.Contains(t, err.Error(), "must use https")
}

func TestSaveConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mcpauth")

	config := GetDefaultConfig()
	config.SetServer("docs", ServerConfig{URL: "https://mcp.example.com", Scopes: []string{"read"}})
	require.NoError(t, SaveConfig(dir, config))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(ConfigFilePath(dir))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestSaveConfig_RejectsInvalid(t *testing.T) {
	config := GetDefaultConfig()
	config.SetServer("bad name", ServerConfig{URL: "https://mcp.example.com"})

	err := SaveConfig(t.TempDir(), config)
	assert.Error(t, err)
}

func TestConfig_ServerHelpers(t *testing.T) {
	var config Config
	_, ok := config.Server("docs")
	assert.False(t, ok)

	config.SetServer("docs", ServerConfig{URL: "https://mcp.example.com"})
	_, ok = config.Server("docs")
	assert.True(t, ok)
}
