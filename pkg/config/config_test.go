package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitasync/vitasync/pkg/errors"
	"github.com/vitasync/vitasync/pkg/version"
)

func TestParseDefaults(t *testing.T) {
	fs = afero.NewMemMapFs()

	config, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, config.Port)
	assert.Equal(t, DefaultRemoteRoot, config.RemoteRoot)
	assert.Empty(t, config.Ignore)
}

func TestParseFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeConfig(t, `
version: v1alpha1
port: 2121
remoteRoot: "uma0:/backup"
ignore:
  - .DS_Store
`)

	config, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 2121, config.Port)
	assert.Equal(t, "uma0:/backup", config.RemoteRoot)
	assert.Equal(t, []string{".DS_Store"}, config.Ignore)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeConfig(t, `
version: v1alpha1
porf: 2121
`)

	_, err := Parse()
	require.Error(t, err)
	_, ok := err.(errors.FriendlyError)
	assert.True(t, ok)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeConfig(t, `
version: v2
port: 2121
`)

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, errors.GetPrintableMessage(err), "incompatible")
}

func TestCheckVersion(t *testing.T) {
	config := Config{MinVersion: "0.4.0"}

	assert.NoError(t, config.CheckVersion("0.4.0"))
	assert.NoError(t, config.CheckVersion("0.5.1"))
	assert.Error(t, config.CheckVersion("0.3.9"))

	// Development builds aren't stamped with a version and always pass.
	assert.NoError(t, config.CheckVersion(version.EmptyValue))

	assert.NoError(t, Config{}.CheckVersion("0.0.1"))
	assert.Error(t, Config{MinVersion: "not-a-version"}.CheckVersion("0.4.0"))
}

func writeConfig(t *testing.T, contents string) {
	require.NoError(t, afero.WriteFile(fs, ConfigPath, []byte(contents), 0644))
}
