package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCfg struct {
	Name string `mapstructure:"name"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "demo-service.yaml"), []byte(body), 0o644))
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "name: demo\nhttp:\n  addr: \":8080\"\nlog:\n  level: info\n")
	t.Chdir(dir)
	t.Setenv("DEMO_SERVICE_HTTP_ADDR", ":9999")

	var cfg testCfg
	v, err := Load("demo-service", &cfg)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "info", v.GetString("log.level"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	var cfg testCfg
	_, err := Load("demo-service", &cfg)
	assert.Error(t, err)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "DEPOSIT_SERVICE", envPrefix("deposit-service"))
}
