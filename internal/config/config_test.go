package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesJSONSettings(t *testing.T) {
	path := writeSettings(t, `{
		"databases": {
			"prd": {"endpoint": "http://db:8529", "database": "mirror", "user": "root", "password": "secret"}
		},
		"base_urls": {"prd": "https://example.org/"}
	}`)

	settings, err := Load(path)
	require.NoError(t, err)

	db, err := settings.Database(EnvPRD)
	require.NoError(t, err)
	assert.Equal(t, "http://db:8529", db.Endpoint)
	assert.Equal(t, "mirror", db.Database)

	url, err := settings.BaseURL(EnvPRD)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/", url)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestDatabaseDefaultsAndValidation(t *testing.T) {
	path := writeSettings(t, `{
		"databases": {
			"dev": {"database": "mirror", "user": "root", "password": "secret"},
			"tei": {"database": "mirror"}
		}
	}`)
	settings, err := Load(path)
	require.NoError(t, err)

	db, err := settings.Database(EnvDEV)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8529", db.Endpoint, "endpoint falls back to a local server")

	_, err = settings.Database(EnvTEI)
	assert.Error(t, err, "settings without credentials are rejected")

	_, err = settings.Database(EnvAIM)
	assert.Error(t, err, "unconfigured environments are rejected")
}

func TestBaseURLFallsBackToDefaults(t *testing.T) {
	settings := &Settings{}
	url, err := settings.BaseURL(EnvPRD)
	require.NoError(t, err)
	assert.Equal(t, "https://services.apps.mow.vlaanderen.be/", url)
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("PRD")
	require.NoError(t, err)
	assert.Equal(t, EnvPRD, env)

	_, err = ParseEnvironment("staging")
	assert.Error(t, err)
}

func TestParseAuthMethod(t *testing.T) {
	for name, want := range map[string]AuthMethod{
		"jwt":    AuthJWT,
		"CERT":   AuthCert,
		"cookie": AuthCookie,
	} {
		method, err := ParseAuthMethod(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, method)
	}

	_, err := ParseAuthMethod("basic")
	assert.Error(t, err)
}

func TestJWTSettingsRequireExistingKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("dummy"), 0o600))

	settings := &Settings{Authentication: AuthenticationSettings{
		JWT: map[string]JWTSettings{
			"prd": {KeyPath: keyPath, ClientID: "client-1"},
			"dev": {KeyPath: filepath.Join(t.TempDir(), "missing.pem"), ClientID: "client-2"},
		},
	}}

	js, err := settings.JWT(EnvPRD)
	require.NoError(t, err)
	assert.Equal(t, "client-1", js.ClientID)

	_, err = settings.JWT(EnvDEV)
	assert.Error(t, err, "a key path that does not exist fails validation")
}
