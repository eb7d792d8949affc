package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// per-user key store (file, 0600) for classifier API keys.

const fileName = "keys.json"

type secretFile struct {
	Keys map[string]string `json:"keys"` // provider -> sealed key
}

// KeyStore persists provider API keys under dir.
type KeyStore struct {
	dir    string
	sealer *Sealer
}

// DefaultKeyStore stores keys in the user config dir, sealed with a machine-local key.
func DefaultKeyStore() (*KeyStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewKeyStore(filepath.Join(dir, "bankfeed"), machinePassphrase())
}

func NewKeyStore(dir, passphrase string) (*KeyStore, error) {
	sealer, err := NewSealer(passphrase)
	if err != nil {
		return nil, err
	}
	return &KeyStore{dir: dir, sealer: sealer}, nil
}

func (k *KeyStore) StoreProviderKey(provider, key string) error {
	if provider = norm(provider); provider == "" {
		return fmt.Errorf("provider required")
	}
	if err := os.MkdirAll(k.dir, 0o700); err != nil { // restrict directory
		return err
	}
	sf, err := load(k.path())
	if err != nil {
		return err
	}
	if sf.Keys == nil {
		sf.Keys = map[string]string{}
	}
	sealed, err := k.sealer.Seal(key)
	if err != nil {
		return err
	}
	sf.Keys[provider] = sealed
	return save(k.path(), sf)
}

func (k *KeyStore) FetchProviderKey(provider string) (string, error) {
	if provider = norm(provider); provider == "" {
		return "", fmt.Errorf("provider required")
	}
	sf, err := load(k.path())
	if err != nil {
		return "", err
	}
	sealed, ok := sf.Keys[provider]
	if !ok {
		return "", fmt.Errorf("key not found")
	}
	return k.sealer.Open(sealed)
}

func (k *KeyStore) DeleteProviderKey(provider string) error {
	if provider = norm(provider); provider == "" {
		return fmt.Errorf("provider required")
	}
	sf, err := load(k.path())
	if err != nil {
		return err
	}
	delete(sf.Keys, provider)
	return save(k.path(), sf)
}

func (k *KeyStore) path() string { return filepath.Join(k.dir, fileName) }

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, err
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func machinePassphrase() string {
	return fmt.Sprintf("bankfeed-%s-%s", runtime.GOOS, os.Getenv("USER"))
}
