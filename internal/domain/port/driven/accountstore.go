package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
)

// Sentinel errors returned by AccountStore implementations.
var (
	// ErrAccountNotFound indicates no account exists with the requested id.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateLogin indicates an account with the same login already exists.
	ErrDuplicateLogin = errors.New("account login already exists")
)

// AccountStore defines the driven port for account persistence. Secret
// fields cross this boundary in plaintext; the adapter encrypts them through
// a Vault before writing and decrypts them after reading. Every method is a
// single atomic statement against the backing engine.
type AccountStore interface {
	// Add inserts a new account and returns its id. The nickname defaults to
	// the login. Returns ErrDuplicateLogin if the login is taken.
	Add(ctx context.Context, account model.NewAccount) (int64, error)

	// List returns every account that decrypts cleanly. Rows that fail to
	// decrypt are logged and skipped.
	List(ctx context.Context) ([]model.Account, error)

	// ListScheduled returns rotation state for every account without
	// touching secret columns.
	ListScheduled(ctx context.Context) ([]model.ScheduleEntry, error)

	// Get returns a single account. Returns ErrAccountNotFound if absent.
	Get(ctx context.Context, id int64) (*model.Account, error)

	// UpdatePassword replaces the stored password without touching the
	// rotation fields. It is the manual-reset path for a password changed
	// outside rotavault; rotations go through RecordRotation.
	UpdatePassword(ctx context.Context, id int64, password string) error

	// UpdateRotationSchedule sets the rotation flag, interval, and next due
	// time. A nil next clears the due time.
	UpdateRotationSchedule(ctx context.Context, id int64, enabled bool, intervalHours int, next *time.Time) error

	// RecordRotation stores the outcome of a successful rotation: the new
	// password, the rotation time, and the next due time, in one write.
	RecordRotation(ctx context.Context, id int64, password string, rotatedAt time.Time, next *time.Time) error

	// Delete removes an account. Returns ErrAccountNotFound if absent.
	Delete(ctx context.Context, id int64) error
}
