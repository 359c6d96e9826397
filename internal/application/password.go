package application

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// passwordAlphabet covers lower case, upper case, digits, and punctuation.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// DefaultPasswordLength is used when no length is configured.
const DefaultPasswordLength = 16

// GeneratePassword returns a password of the given length drawn uniformly
// from passwordAlphabet using crypto/rand.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: password length must be positive", ErrValidation)
	}

	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
