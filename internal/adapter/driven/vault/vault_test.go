package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	master := make([]byte, KeySize)
	_, err := rand.Read(master)
	require.NoError(t, err)

	v, err := New(master)
	require.NoError(t, err)
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	inputs := [][]byte{
		{},
		[]byte("Pw1"),
		[]byte(`{"shared_secret":"c2VjcmV0","device_id":"android:1"}`),
		bytes.Repeat([]byte{0}, 64),
		random,
	}

	for _, p := range inputs {
		ct, err := v.Encrypt(p)
		require.NoError(t, err)

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, string(p), string(got))
	}
}

func TestVault_EncryptIsRandomised(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh nonce per call")
}

func TestVault_ForeignKeyFails(t *testing.T) {
	ct, err := newTestVault(t).Encrypt([]byte("Pw1"))
	require.NoError(t, err)

	_, err = newTestVault(t).Decrypt(ct)
	assert.ErrorIs(t, err, driven.ErrDecryption)
}

func TestVault_CorruptCiphertextFails(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("Pw1"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(string(ct))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := []byte(base64.StdEncoding.EncodeToString(raw))

	tests := []struct {
		name string
		ct   []byte
	}{
		{name: "tampered tag", ct: tampered},
		{name: "not base64", ct: []byte("!!!")},
		{name: "too short", ct: []byte(base64.StdEncoding.EncodeToString([]byte("short")))},
		{name: "empty", ct: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.ct)
			assert.ErrorIs(t, err, driven.ErrDecryption)
		})
	}
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.Error(t, err)
}

func TestFileKeySource_CreatesThenReuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "encryption.key")
	src := NewFileKeySource(path)

	first, err := src.Load()
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileKeySource_VaultSurvivesReload(t *testing.T) {
	src := NewFileKeySource(filepath.Join(t.TempDir(), "encryption.key"))

	v1, err := Open(src)
	require.NoError(t, err)
	ct, err := v1.Encrypt([]byte("Pw1"))
	require.NoError(t, err)

	v2, err := Open(src)
	require.NoError(t, err)
	pt, err := v2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "Pw1", string(pt))
}

func TestFileKeySource_AcceptsURLSafeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.key")
	key := bytes.Repeat([]byte{0xfb}, KeySize)
	require.NoError(t, os.WriteFile(path, []byte(base64.URLEncoding.EncodeToString(key)), 0o600))

	got, err := NewFileKeySource(path).Load()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeySource_MalformedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := NewFileKeySource(path).Load()
	assert.Error(t, err)

	short := filepath.Join(t.TempDir(), "short.key")
	require.NoError(t, os.WriteFile(short, []byte(base64.StdEncoding.EncodeToString([]byte("16-bytes-long!!!"))), 0o600))

	_, err = NewFileKeySource(short).Load()
	assert.Error(t, err)
}

func TestKeyringKeySource_CreatesThenReuses(t *testing.T) {
	keyring.MockInit()
	src := NewKeyringKeySource("rotavault-test", "vault")

	first, err := src.Load()
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	second, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestKeyringKeySource_MalformedEntry(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set("rotavault-test", "broken", "nope"))

	_, err := NewKeyringKeySource("rotavault-test", "broken").Load()
	assert.Error(t, err)
}
