// Package guard derives Steam Guard style one-time authentication codes from
// an account's shared secret.
package guard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrInvalidSecret is returned when the shared secret cannot be decoded.
var ErrInvalidSecret = errors.New("invalid shared secret")

const (
	// Period is the lifetime of a single code.
	Period = 30 * time.Second

	// CodeLength is the number of characters in a code.
	CodeLength = 5

	alphabet = "23456789BCDFGHJKMNPQRTVWXY"
)

// GenerateCode returns the code valid for the 30-second window containing at.
func GenerateCode(sharedSecret string, at time.Time) (string, error) {
	key, err := decodeSecret(sharedSecret)
	if err != nil {
		return "", err
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(at.Unix()/int64(Period/time.Second)))

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: the low nibble of the last byte selects a
	// 4-byte window, top bit cleared.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = alphabet[value%uint32(len(alphabet))]
		value /= uint32(len(alphabet))
	}

	return string(code), nil
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}

	key, err := base64.StdEncoding.DecodeString(secret)
	if err == nil {
		return key, nil
	}
	key, rawErr := base64.RawStdEncoding.DecodeString(secret)
	if rawErr == nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
}

// Generator produces codes against an injected clock.
type Generator struct {
	clock clockwork.Clock
}

// NewGenerator creates a Generator reading time from c.
func NewGenerator(c clockwork.Clock) *Generator {
	return &Generator{clock: c}
}

// Code returns the code for the current window.
func (g *Generator) Code(sharedSecret string) (string, error) {
	return GenerateCode(sharedSecret, g.clock.Now())
}

// SecondsRemaining returns how long the current code stays valid.
func (g *Generator) SecondsRemaining() int {
	period := int64(Period / time.Second)
	return int(period - g.clock.Now().Unix()%period)
}
