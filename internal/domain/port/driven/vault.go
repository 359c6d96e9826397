package driven

import "errors"

// ErrDecryption is returned when ciphertext was not produced by the current
// vault key or has been corrupted.
var ErrDecryption = errors.New("decryption failed")

// Vault encrypts secrets at rest with a process-wide key.
type Vault interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
