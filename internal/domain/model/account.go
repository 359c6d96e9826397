package model

import (
	"time"
)

// Account is a managed third-party account with its decrypted credentials.
// Values of this type never leave the application layer; driving adapters
// receive an AccountView instead.
type Account struct {
	ID                    int64
	Login                 string
	Password              string
	Bundle                SecretBundle
	Nickname              string
	RotationEnabled       bool
	RotationIntervalHours int
	LastRotationAt        *time.Time
	NextRotationAt        *time.Time
	CreatedAt             time.Time
}

// RotationInterval returns the configured interval as a duration.
func (a Account) RotationInterval() time.Duration {
	return time.Duration(a.RotationIntervalHours) * time.Hour
}

// TimeRemaining returns the time left until the next scheduled rotation.
// It is nil unless rotation is enabled and the account has been rotated at
// least once; it never goes negative.
func (a Account) TimeRemaining(now time.Time) *time.Duration {
	if !a.RotationEnabled || a.LastRotationAt == nil || a.NextRotationAt == nil {
		return nil
	}
	remaining := max(a.NextRotationAt.Sub(now), 0)
	return &remaining
}

// View strips the secret fields.
func (a Account) View(now time.Time) AccountView {
	return AccountView{
		ID:                    a.ID,
		Login:                 a.Login,
		Nickname:              a.Nickname,
		RotationEnabled:       a.RotationEnabled,
		RotationIntervalHours: a.RotationIntervalHours,
		LastRotationAt:        a.LastRotationAt,
		NextRotationAt:        a.NextRotationAt,
		TimeRemaining:         a.TimeRemaining(now),
	}
}

// AccountView is the secret-free projection exposed to the API and CLI.
type AccountView struct {
	ID                    int64
	Login                 string
	Nickname              string
	RotationEnabled       bool
	RotationIntervalHours int
	LastRotationAt        *time.Time
	NextRotationAt        *time.Time
	TimeRemaining         *time.Duration
}

// NewAccount carries the fields required to create an account.
type NewAccount struct {
	Login    string
	Password string
	Bundle   SecretBundle
	Nickname string
}

// ScheduleEntry is the rotation state of one account without any secret
// material, used to rebuild timers at startup.
type ScheduleEntry struct {
	ID                    int64
	Login                 string
	RotationEnabled       bool
	RotationIntervalHours int
	NextRotationAt        *time.Time
}
