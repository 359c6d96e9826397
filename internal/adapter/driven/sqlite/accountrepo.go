package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port interface.
// Password and secret bundle columns are encrypted through the vault before
// write and decrypted after read; no other column is secret.
type AccountRepo struct {
	db    *DB
	vault driven.Vault
	clock clockwork.Clock
}

// NewAccountRepo creates a new AccountRepo backed by the given DB and vault.
// c stamps created_at on new rows.
func NewAccountRepo(db *DB, vault driven.Vault, c clockwork.Clock) *AccountRepo {
	return &AccountRepo{db: db, vault: vault, clock: c}
}

const accountColumns = `id, login, encrypted_password, encrypted_bundle, nickname,
	rotation_enabled, rotation_interval_hours, last_rotation_at, next_rotation_at, created_at`

// Add inserts a new account. Returns ErrDuplicateLogin if the login exists.
func (r *AccountRepo) Add(ctx context.Context, account model.NewAccount) (int64, error) {
	encPassword, err := r.vault.Encrypt([]byte(account.Password))
	if err != nil {
		return 0, fmt.Errorf("encrypt password for %s: %w", account.Login, err)
	}
	encBundle, err := r.vault.Encrypt(account.Bundle.Bytes())
	if err != nil {
		return 0, fmt.Errorf("encrypt secret bundle for %s: %w", account.Login, err)
	}

	nickname := account.Nickname
	if nickname == "" {
		nickname = account.Login
	}

	const query = `INSERT INTO accounts (login, encrypted_password, encrypted_bundle, nickname, created_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.Writer.ExecContext(ctx, query,
		account.Login, string(encPassword), string(encBundle), nickname, formatTime(r.clock.Now()))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, fmt.Errorf("add account %s: %w", account.Login, driven.ErrDuplicateLogin)
		}
		return 0, fmt.Errorf("add account %s: %w", account.Login, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read account id: %w", err)
	}
	return id, nil
}

// List returns all accounts ordered by id. A row that cannot be decrypted is
// logged and skipped so that one bad row never hides the others.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		row, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}

		account, err := r.decode(row)
		if err != nil {
			slog.Warn("skipping undecryptable account", "id", row.id, "login", row.login, "error", err)
			continue
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// ListScheduled returns the rotation state of every account without
// decrypting anything.
func (r *AccountRepo) ListScheduled(ctx context.Context) ([]model.ScheduleEntry, error) {
	const query = `SELECT id, login, rotation_enabled, rotation_interval_hours, next_rotation_at
		FROM accounts ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var entries []model.ScheduleEntry
	for rows.Next() {
		var entry model.ScheduleEntry
		var next sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Login, &entry.RotationEnabled, &entry.RotationIntervalHours, &next); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		entry.NextRotationAt, err = parseNullTime(next)
		if err != nil {
			return nil, fmt.Errorf("parse next_rotation_at for account %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	return entries, nil
}

// Get returns the account with the given id.
func (r *AccountRepo) Get(ctx context.Context, id int64) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	row, err := scanAccountRow(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get account %d: %w", id, driven.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}

	account, err := r.decode(row)
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return account, nil
}

// UpdatePassword encrypts and stores a new password.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id int64, password string) error {
	enc, err := r.vault.Encrypt([]byte(password))
	if err != nil {
		return fmt.Errorf("encrypt password for account %d: %w", id, err)
	}

	const query = `UPDATE accounts SET encrypted_password = ? WHERE id = ?`
	return r.execTargeted(ctx, "update password", id, query, string(enc), id)
}

// UpdateRotationSchedule sets the rotation flag, interval, and next due time.
func (r *AccountRepo) UpdateRotationSchedule(ctx context.Context, id int64, enabled bool, intervalHours int, next *time.Time) error {
	const query = `UPDATE accounts
		SET rotation_enabled = ?, rotation_interval_hours = ?, next_rotation_at = ?
		WHERE id = ?`
	return r.execTargeted(ctx, "update rotation schedule", id, query, enabled, intervalHours, nullTime(next), id)
}

// RecordRotation stores a rotated password together with its timestamps.
func (r *AccountRepo) RecordRotation(ctx context.Context, id int64, password string, rotatedAt time.Time, next *time.Time) error {
	enc, err := r.vault.Encrypt([]byte(password))
	if err != nil {
		return fmt.Errorf("encrypt password for account %d: %w", id, err)
	}

	const query = `UPDATE accounts
		SET encrypted_password = ?, last_rotation_at = ?, next_rotation_at = ?
		WHERE id = ?`
	return r.execTargeted(ctx, "record rotation", id, query, string(enc), formatTime(rotatedAt), nullTime(next), id)
}

// Delete removes an account by id.
func (r *AccountRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM accounts WHERE id = ?`
	return r.execTargeted(ctx, "delete account", id, query, id)
}

// execTargeted runs a single-row write and maps zero affected rows to
// ErrAccountNotFound.
func (r *AccountRepo) execTargeted(ctx context.Context, op string, id int64, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, driven.ErrAccountNotFound)
	}
	return nil
}

// accountRow is an accounts row before decryption.
type accountRow struct {
	id                int64
	login             string
	encryptedPassword string
	encryptedBundle   string
	nickname          string
	enabled           bool
	intervalHours     int
	lastRotationAt    sql.NullString
	nextRotationAt    sql.NullString
	createdAt         string
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(s scanner) (accountRow, error) {
	var row accountRow
	err := s.Scan(
		&row.id, &row.login, &row.encryptedPassword, &row.encryptedBundle, &row.nickname,
		&row.enabled, &row.intervalHours, &row.lastRotationAt, &row.nextRotationAt, &row.createdAt,
	)
	return row, err
}

func (r *AccountRepo) decode(row accountRow) (*model.Account, error) {
	password, err := r.vault.Decrypt([]byte(row.encryptedPassword))
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	rawBundle, err := r.vault.Decrypt([]byte(row.encryptedBundle))
	if err != nil {
		return nil, fmt.Errorf("decrypt secret bundle: %w", err)
	}
	bundle, err := model.ParseSecretBundle(rawBundle)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		ID:                    row.id,
		Login:                 row.login,
		Password:              string(password),
		Bundle:                bundle,
		Nickname:              row.nickname,
		RotationEnabled:       row.enabled,
		RotationIntervalHours: row.intervalHours,
	}

	if account.LastRotationAt, err = parseNullTime(row.lastRotationAt); err != nil {
		return nil, fmt.Errorf("parse last_rotation_at: %w", err)
	}
	if account.NextRotationAt, err = parseNullTime(row.nextRotationAt); err != nil {
		return nil, fmt.Errorf("parse next_rotation_at: %w", err)
	}
	if account.CreatedAt, err = parseTime(row.createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return account, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
