package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/zalando/go-keyring"

	"github.com/int3rceptor/interceptor/errs"
)

const (
	keyringService = "interceptor"
	keyringUser    = "capture-store-master-key"

	defaultEnvVar  = "INTERCEPTOR_ENCRYPTION_KEY"
	defaultKeyFile = ".interceptor_key"
)

// KeyProvider resolves the capture store's AES-256-GCM master key. A
// disabled provider (Source "none"/"") leaves bodies and headers stored in
// plaintext — explicit opt-out, never the silent default of a failed
// lookup.
type KeyProvider struct {
	key     [32]byte
	enabled bool
}

// ResolveKey builds a KeyProvider from cfg. Source values:
//   - "env": read a hex-encoded secret from the EnvVar (default
//     INTERCEPTOR_ENCRYPTION_KEY).
//   - "file": read a hex-encoded secret from KeyFile (default
//     .interceptor_key).
//   - "keyring": read the key material from the OS credential store via
//     zalando/go-keyring.
//   - "none"/"": encryption disabled.
//
// Regardless of source, the looked-up secret is run through HKDF-SHA256 to
// derive the actual 32-byte AES key, so the stored/env/keyring secret need
// not itself be exactly 32 bytes of uniformly random key material.
func ResolveKey(cfg KeyConfig) (KeyProvider, error) {
	switch cfg.Source {
	case "env":
		raw, err := readEnvKey(cfg.envLookup(), cfg.EnvVar)
		if err != nil {
			return KeyProvider{}, err
		}
		return deriveProvider(raw)
	case "file":
		raw, err := cfg.fileLookup(cfg.KeyFile)
		if err != nil {
			return KeyProvider{}, errs.New(errs.KindConfigInvalid, "reading encryption key file", err)
		}
		return deriveProvider(strings.TrimSpace(string(raw)))
	case "keyring":
		raw, err := cfg.keyringLookup()
		if err != nil {
			return KeyProvider{}, errs.New(errs.KindConfigInvalid, "reading encryption key from OS keyring", err)
		}
		return deriveProvider(strings.TrimSpace(raw))
	case "none", "":
		return KeyProvider{enabled: false}, nil
	default:
		return KeyProvider{}, errs.New(errs.KindConfigInvalid, "unknown encryption source: "+cfg.Source, nil)
	}
}

// KeyConfig carries the lookup parameters plus swappable lookup functions
// (defaulted to real env/file/keyring access; tests substitute fakes).
type KeyConfig struct {
	Source  string
	EnvVar  string
	KeyFile string

	LookupEnv     func(string) (string, bool)
	LookupFile    func(string) ([]byte, error)
	LookupKeyring func() (string, error)
}

func (c KeyConfig) envLookup() func(string) (string, bool) {
	if c.LookupEnv != nil {
		return c.LookupEnv
	}
	return defaultEnvLookup
}

func (c KeyConfig) fileLookup(path string) ([]byte, error) {
	if c.LookupFile != nil {
		return c.LookupFile(resolveOr(path, defaultKeyFile))
	}
	return defaultFileLookup(resolveOr(path, defaultKeyFile))
}

func (c KeyConfig) keyringLookup() (string, error) {
	if c.LookupKeyring != nil {
		return c.LookupKeyring()
	}
	return keyring.Get(keyringService, keyringUser)
}

func defaultEnvLookup(name string) (string, bool) { return os.LookupEnv(name) }

func defaultFileLookup(path string) ([]byte, error) { return os.ReadFile(path) }

func resolveOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func readEnvKey(lookup func(string) (string, bool), envVar string) (string, error) {
	name := resolveOr(envVar, defaultEnvVar)
	value, ok := lookup(name)
	if !ok || value == "" {
		return "", errs.New(errs.KindConfigInvalid, "encryption key env var not set: "+name, nil)
	}
	return value, nil
}

func deriveProvider(secretHex string) (KeyProvider, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) == 0 {
		return KeyProvider{}, errs.New(errs.KindConfigInvalid, "encryption key must be hex-encoded", err)
	}

	hk := hkdf.New(sha256.New, raw, nil, []byte("interceptor-capture-store-v1"))
	var derived [32]byte
	if _, err := io.ReadFull(hk, derived[:]); err != nil {
		return KeyProvider{}, errs.New(errs.KindCrypto, "deriving capture store key", err)
	}
	return KeyProvider{key: derived, enabled: true}, nil
}

// IsEnabled reports whether field-level encryption is active.
func (p KeyProvider) IsEnabled() bool { return p.enabled }

// Key returns the derived 32-byte AES key. Only meaningful if IsEnabled.
func (p KeyProvider) Key() [32]byte { return p.key }
