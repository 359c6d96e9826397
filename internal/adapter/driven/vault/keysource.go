package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeySource loads the vault master key, generating and persisting a fresh
// one if none exists yet.
type KeySource interface {
	Load() ([]byte, error)
}

// FileKeySource keeps the master key base64-encoded in a file.
type FileKeySource struct {
	Path string
}

// NewFileKeySource returns a FileKeySource for path.
func NewFileKeySource(path string) *FileKeySource {
	return &FileKeySource{Path: path}
}

// Load reads the key file, creating it with mode 0600 when absent.
func (s *FileKeySource) Load() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err == nil {
		key, err := decodeKey(string(data))
		if err != nil {
			return nil, fmt.Errorf("read vault key %s: %w", s.Path, err)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read vault key %s: %w", s.Path, err)
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create vault key dir: %w", err)
		}
	}

	// O_EXCL: if another process created the key meanwhile, use theirs.
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return s.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("create vault key %s: %w", s.Path, err)
	}

	if _, err := f.WriteString(encodeKey(key) + "\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write vault key %s: %w", s.Path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sync vault key %s: %w", s.Path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close vault key %s: %w", s.Path, err)
	}

	return key, nil
}

// KeyringKeySource keeps the master key in the operating system keyring
// (Secret Service, macOS Keychain, Windows Credential Manager).
type KeyringKeySource struct {
	Service string
	User    string
}

// NewKeyringKeySource returns a KeyringKeySource for the given entry.
func NewKeyringKeySource(service, user string) *KeyringKeySource {
	return &KeyringKeySource{Service: service, User: user}
}

// Load fetches the key from the keyring, storing a new one when absent.
func (s *KeyringKeySource) Load() ([]byte, error) {
	encoded, err := keyring.Get(s.Service, s.User)
	if err == nil {
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("read vault key from keyring %s/%s: %w", s.Service, s.User, err)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("read vault key from keyring %s/%s: %w", s.Service, s.User, err)
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(s.Service, s.User, encodeKey(key)); err != nil {
		return nil, fmt.Errorf("store vault key in keyring %s/%s: %w", s.Service, s.User, err)
	}
	return key, nil
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	return key, nil
}

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// decodeKey accepts standard or URL-safe base64.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("malformed key: want %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
