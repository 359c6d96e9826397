package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/rotavault/internal/config"
	"github.com/ericfisherdev/rotavault/internal/domain/model"
)

// testSecret is base64 for "secretsecretsecret".
const testSecret = "c2VjcmV0c2VjcmV0c2VjcmV0"

// runCLI executes the root command with args against an isolated config.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("ROTAVAULT_CONFIG", "")
	t.Setenv("ROTAVAULT_DB_PATH", filepath.Join(dir, "rotavault.db"))
	t.Setenv("ROTAVAULT_KEY_SOURCE", "file")
	t.Setenv("ROTAVAULT_KEY_PATH", filepath.Join(dir, "keys", "encryption.key"))
	t.Setenv("ROTAVAULT_LOG_LEVEL", "error")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestCodeCommand_Secret(t *testing.T) {
	out, err := runCLI(t, "code", "--secret", testSecret)
	require.NoError(t, err)
	assert.Regexp(t, `^[23456789BCDFGHJKMNPQRTVWXY]{5} \(valid for \d+s\)\n$`, out)
}

func TestCodeCommand_Bundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.maFile")
	require.NoError(t, os.WriteFile(path, []byte(`{"shared_secret":"`+testSecret+`"}`), 0o600))

	out, err := runCLI(t, "code", "--bundle", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid for")
}

func TestCodeCommand_Errors(t *testing.T) {
	_, err := runCLI(t, "code")
	require.Error(t, err)

	_, err = runCLI(t, "code", "--secret", "%%%")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.maFile")
	require.NoError(t, os.WriteFile(path, []byte(`{"account_name":"x"}`), 0o600))
	_, err = runCLI(t, "code", "--bundle", path)
	require.Error(t, err)
}

func TestKeygenCommand_Idempotent(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "encryption.key")

	run := func() string {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs([]string{"keygen"})
		t.Setenv("ROTAVAULT_KEY_SOURCE", "file")
		t.Setenv("ROTAVAULT_KEY_PATH", keyPath)
		require.NoError(t, root.Execute())
		return out.String()
	}

	out := run()
	assert.Contains(t, out, keyPath)
	first, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	run()
	second, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAccountsList_MissingDatabase(t *testing.T) {
	_, err := runCLI(t, "accounts", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestPrintAccounts(t *testing.T) {
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next := last.Add(24 * time.Hour)
	remaining := 90 * time.Minute

	var out bytes.Buffer
	err := printAccounts(&out, []model.AccountView{
		{ID: 1, Login: "player1", Nickname: "main", RotationEnabled: true, RotationIntervalHours: 24,
			LastRotationAt: &last, NextRotationAt: &next, TimeRemaining: &remaining},
		{ID: 2, Login: "player2", Nickname: "alt", RotationIntervalHours: 24},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LOGIN")
	assert.Contains(t, lines[1], "every 24h")
	assert.Contains(t, lines[1], "1h30m0s")
	assert.Contains(t, lines[2], "off")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo, config.LogFormatJSON)

	logger.Debug("hidden")
	logger.Info("shown", "account_id", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, float64(7), entry["account_id"])
}
