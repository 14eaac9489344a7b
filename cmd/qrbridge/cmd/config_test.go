package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrbridge/internal/config"
)

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "qrbridge.yaml")

	stdout, _, err := execute(t, "config", "init", "--file", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration written to "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var written config.Config
	require.NoError(t, yaml.Unmarshal(data, &written))
	assert.Equal(t, config.DefaultConfig(), written)

	_, _, err = execute(t, "config", "init", "--file", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "config", "init", "--file", target, "--force")
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	stdout, _, err := execute(t, "config", "show")
	require.NoError(t, err)
	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, config.DefaultConfig(), shown)

	stdout, _, err = execute(t, "config", "show", "-o", "json", "--workers", "3")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, 3, shown.Dispatcher.Workers)
	assert.Equal(t, "json", shown.Output.Format)
}

func TestConfigShow_FromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("engine:\n  backend: go\nserver:\n  port: 9090\n"), 0o600))

	stdout, _, err := execute(t, "config", "show", "--config", file)
	require.NoError(t, err)
	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, 9090, shown.Server.Port)
}

func TestConfigShow_InvalidStillPrints(t *testing.T) {
	file := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 0\n"), 0o600))

	stdout, _, err := execute(t, "config", "show", "--config", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
	assert.Contains(t, stdout, "port: 0")
}

func TestConfigPaths(t *testing.T) {
	stdout, _, err := execute(t, "config", "paths")
	require.NoError(t, err)
	assert.Contains(t, stdout, ".\n")
}
