// Package vault implements the Vault port with AES-256-GCM. The working key
// is derived from a 32-byte master key and kept in a memguard enclave so it
// is only present in plaintext for the duration of a single operation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

// KeySize is the length in bytes of the master key and the derived AES key.
const KeySize = 32

const hkdfInfo = "rotavault/vault/v1"

// Compile-time interface satisfaction check.
var _ driven.Vault = (*Vault)(nil)

// Vault encrypts and decrypts secrets. It is safe for concurrent use and
// immutable once constructed.
type Vault struct {
	key *memguard.Enclave
}

// New derives the working key from master. master is wiped before New returns.
func New(master []byte) (*Vault, error) {
	defer memguard.WipeBytes(master)

	if len(master) != KeySize {
		return nil, fmt.Errorf("vault master key must be %d bytes, got %d", KeySize, len(master))
	}

	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	// NewEnclave wipes derived after sealing it.
	return &Vault{key: memguard.NewEnclave(derived)}, nil
}

// Open loads the master key from src, creating it on first use, and returns
// a ready Vault.
func Open(src KeySource) (*Vault, error) {
	master, err := src.Load()
	if err != nil {
		return nil, err
	}
	return New(master)
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, release, err := v.aead()
	if err != nil {
		return nil, err
	}
	defer release()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any failure wraps
// driven.ErrDecryption.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	data := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
	n, err := base64.StdEncoding.Decode(data, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", driven.ErrDecryption, err)
	}
	data = data[:n]

	gcm, release, err := v.aead()
	if err != nil {
		return nil, err
	}
	defer release()

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", driven.ErrDecryption)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrDecryption, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// aead opens the enclave and builds a GCM instance. The returned release
// func destroys the plaintext key buffer.
func (v *Vault) aead() (cipher.AEAD, func(), error) {
	if v == nil || v.key == nil {
		return nil, nil, errors.New("vault not initialised")
	}

	buf, err := v.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open vault key: %w", err)
	}

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, buf.Destroy, nil
}
