package driven

import (
	"context"
	"errors"
)

// Sentinel errors returned by AccountProvider implementations.
var (
	// ErrAuthentication indicates the provider rejected the login and password.
	ErrAuthentication = errors.New("provider rejected credentials")

	// ErrTwoFactor indicates the provider rejected the one-time code.
	ErrTwoFactor = errors.New("provider rejected two-factor code")

	// ErrProvider indicates any other provider-side failure, including a
	// refused password change or an unreachable provider.
	ErrProvider = errors.New("provider request failed")
)

// AccountProvider is the external service that owns the accounts. Calls are
// blocking network operations; callers bound them with ctx.
type AccountProvider interface {
	Authenticate(ctx context.Context, login, password string) (ProviderSession, error)
}

// ProviderSession is a login in progress or an authenticated session.
type ProviderSession interface {
	SubmitTwoFactorCode(ctx context.Context, code string) (ProviderSession, error)
	ChangePassword(ctx context.Context, newPassword string) error
}
