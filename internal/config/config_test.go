package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, BackendSim, cfg.Backend)
	assert.Equal(t, uint32(0x60000000), cfg.RegisterBase)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	content := []byte("port: /dev/ttyACM3\nbaud: 921600\nbackend: spi\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flasher-stub.yaml"), content, 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", cfg.Port)
	assert.Equal(t, 921600, cfg.Baud)
	assert.Equal(t, BackendSPI, cfg.Backend)
}

func TestLoad_FlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	content := []byte("baud: 921600\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flasher-stub.yaml"), content, 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--baud=460800"}))

	cfg, err := Load(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, 460800, cfg.Baud)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--backend=bogus"}))

	_, err = Load(fs, nil)
	assert.Error(t, err)
}
