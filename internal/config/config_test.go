package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noFile(string) ([]byte, error) {
	return nil, errors.New("no file in this test")
}

func TestDefaultsWithEmptyEnv(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{}, noFile)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", cfg.ListenAddr)
	assert.Equal(t, "everysec", cfg.AOFFsync)
	assert.False(t, cfg.NonRedisMode)
}

func TestIdleTimeoutSecParsedIntoDuration(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{}, noFile)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout())

	cfg, err = LoadFrom(map[string]string{"FEDIS_IDLE_TIMEOUT_SEC": "30"}, noFile)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout())
}

func TestHostPortOverride(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"FEDIS_HOST": "0.0.0.0", "FEDIS_PORT": "7000"}, noFile)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.ListenAddr)
}

func TestListenOverridesHostPort(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FEDIS_HOST":   "0.0.0.0",
		"FEDIS_PORT":   "7000",
		"FEDIS_LISTEN": "10.0.0.5:9000",
	}, noFile)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:9000", cfg.ListenAddr)
}

func TestURLOverridesEverything(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FEDIS_LISTEN": "10.0.0.5:9000",
		"FEDIS_URL":    "redis://user:pw@example.com:6390/0",
	}, noFile)
	require.NoError(t, err)
	assert.Equal(t, "example.com:6390", cfg.ListenAddr)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, "pw", cfg.Password)
}

func TestEnvOverridesFile(t *testing.T) {
	readFile := func(path string) ([]byte, error) {
		assert.Equal(t, "/etc/fedis.conf", path)
		return []byte("FEDIS_LOG=debug\nFEDIS_PASSWORD=fromfile\n"), nil
	}
	cfg, err := LoadFrom(map[string]string{
		"FEDIS_CONFIG":   "/etc/fedis.conf",
		"FEDIS_PASSWORD": "fromenv",
	}, readFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "fromenv", cfg.Password)
}

func TestParseKVIgnoresCommentsAndBlankLines(t *testing.T) {
	vals, err := parseKV([]byte("# comment\n\nFEDIS_LOG=warn\n  # indented comment\nFEDIS_NON_REDIS_MODE=true\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", vals["FEDIS_LOG"])
	assert.Equal(t, "true", vals["FEDIS_NON_REDIS_MODE"])
}

func TestUserSpecsFromUsersList(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FEDIS_PASSWORD": "root-pw",
		"FEDIS_USERS":    "alice:alicepw:true, bob:bobpw:false",
	}, noFile)
	require.NoError(t, err)

	specs, err := cfg.UserSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "default", specs[0].Name)
	assert.Equal(t, "alice", specs[1].Name)
	assert.True(t, specs[1].Enabled)
	assert.Equal(t, "bob", specs[2].Name)
	assert.False(t, specs[2].Enabled)
}
