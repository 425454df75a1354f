package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

func TestResolveKeyNoneDisablesEncryption(t *testing.T) {
	key, err := ResolveKey(KeyConfig{Source: "none"})
	require.NoError(t, err)
	assert.False(t, key.IsEnabled())
}

func TestResolveKeyEmptySourceDisablesEncryption(t *testing.T) {
	key, err := ResolveKey(KeyConfig{})
	require.NoError(t, err)
	assert.False(t, key.IsEnabled())
}

func TestResolveKeyFromEnv(t *testing.T) {
	cfg := KeyConfig{
		Source: "env",
		EnvVar: "TEST_KEY",
		LookupEnv: func(name string) (string, bool) {
			if name == "TEST_KEY" {
				return testHexKey, true
			}
			return "", false
		},
	}
	key, err := ResolveKey(cfg)
	require.NoError(t, err)
	assert.True(t, key.IsEnabled())
}

func TestResolveKeyFromEnvMissingFails(t *testing.T) {
	cfg := KeyConfig{
		Source:    "env",
		LookupEnv: func(string) (string, bool) { return "", false },
	}
	_, err := ResolveKey(cfg)
	assert.Error(t, err)
}

func TestResolveKeyFromFile(t *testing.T) {
	cfg := KeyConfig{
		Source: "file",
		LookupFile: func(path string) ([]byte, error) {
			return []byte(testHexKey + "\n"), nil
		},
	}
	key, err := ResolveKey(cfg)
	require.NoError(t, err)
	assert.True(t, key.IsEnabled())
}

func TestResolveKeyFromFileErrorPropagates(t *testing.T) {
	cfg := KeyConfig{
		Source: "file",
		LookupFile: func(string) ([]byte, error) {
			return nil, errors.New("permission denied")
		},
	}
	_, err := ResolveKey(cfg)
	assert.Error(t, err)
}

func TestResolveKeyFromKeyring(t *testing.T) {
	cfg := KeyConfig{
		Source:        "keyring",
		LookupKeyring: func() (string, error) { return testHexKey, nil },
	}
	key, err := ResolveKey(cfg)
	require.NoError(t, err)
	assert.True(t, key.IsEnabled())
}

func TestResolveKeyUnknownSourceFails(t *testing.T) {
	_, err := ResolveKey(KeyConfig{Source: "bogus"})
	assert.Error(t, err)
}

func TestResolveKeyRejectsNonHexSecret(t *testing.T) {
	cfg := KeyConfig{
		Source:    "env",
		LookupEnv: func(string) (string, bool) { return "not-hex", true },
	}
	_, err := ResolveKey(cfg)
	assert.Error(t, err)
}

func TestSameSecretDerivesSameKey(t *testing.T) {
	a, err := deriveProvider(testHexKey)
	require.NoError(t, err)
	b, err := deriveProvider(testHexKey)
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
}
