package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/rotavault/internal/adapter/driven/vault"
)

var testEpoch = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

// newTestClock returns a fake clock pinned to testEpoch.
func newTestClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testEpoch)
}

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader}

	if _, err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// newTestVault returns a vault with a random key.
func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()

	master := make([]byte, vault.KeySize)
	if _, err := rand.Read(master); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := vault.New(master)
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return v
}
