package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv(EnvFilePathVar, "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesAndAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
tagPasswords:
  DE290Tag.access: secret-a
  DE290Tag.kill: secret-k
readers:
  - name: circ-desk-1
    address: 10.0.0.5
    port: 4001
    antennas: [1, 2]
`)
	t.Setenv(EnvFilePathVar, path)

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "DE290", cfg.DefaultTagFormat)
	assert.Equal(t, "host", cfg.Readers[0].Mode, "blank mode must normalize to host")
	assert.Equal(t, "US", cfg.Readers[0].Region, "blank region must default to US")
	assert.Equal(t, "secret-a", cfg.TagPasswords["DE290Tag.access"])
}

func TestLoadAcceptsKnownRegion(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
    port: 4001
    region: EU
`)
	t.Setenv(EnvFilePathVar, path)

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "EU", cfg.Readers[0].Region)
}

func TestLoadRejectsUnknownRegion(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
    port: 4001
    region: MARS
`)
	t.Setenv(EnvFilePathVar, path)

	_, err := Load()
	assert.ErrorContains(t, err, "unknown region")
}

func TestLoadRejectsEmptyReaderList(t *testing.T) {
	path := writeTempConfig(t, `readers: []`)
	t.Setenv(EnvFilePathVar, path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateReaderNames(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
    port: 4001
  - name: a
    address: 10.0.0.6
    port: 4002
`)
	t.Setenv(EnvFilePathVar, path)

	_, err := Load()
	assert.ErrorContains(t, err, "duplicate reader name")
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
    port: 4001
    mode: bogus
`)
	t.Setenv(EnvFilePathVar, path)

	_, err := Load()
	assert.ErrorContains(t, err, "mode must be")
}

func TestLoadRejectsOutOfRangeAntenna(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
    port: 4001
    antennas: [0, 9]
`)
	t.Setenv(EnvFilePathVar, path)

	_, err := Load()
	assert.ErrorContains(t, err, "out of range")
}

func TestLoadRejectsMissingAddressOrPort(t *testing.T) {
	path := writeTempConfig(t, `
readers:
  - name: a
    port: 4001
`)
	t.Setenv(EnvFilePathVar, path)
	_, err := Load()
	assert.ErrorContains(t, err, "address is required")

	path = writeTempConfig(t, `
readers:
  - name: a
    address: 10.0.0.5
`)
	t.Setenv(EnvFilePathVar, path)
	_, err = Load()
	assert.ErrorContains(t, err, "port must be positive")
}
