package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
	"github.com/ericfisherdev/rotavault/internal/guard"
)

// WorkflowOptions tunes the rotation workflow.
type WorkflowOptions struct {
	PasswordLength  int
	ProviderTimeout time.Duration

	// RetryMaxAttempts bounds how often a failed scheduled rotation is
	// retried. Zero leaves the account without a timer after a failure.
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultWorkflowOptions returns the options used when none are configured.
func DefaultWorkflowOptions() WorkflowOptions {
	return WorkflowOptions{
		PasswordLength:       DefaultPasswordLength,
		ProviderTimeout:      30 * time.Second,
		RetryMaxAttempts:     3,
		RetryInitialInterval: 5 * time.Minute,
		RetryMaxInterval:     time.Hour,
	}
}

// RotationResult describes a completed rotation. NewPassword is the only
// copy of the password outside the vault; callers hand it to the user once.
type RotationResult struct {
	RunID          string
	AccountID      int64
	Login          string
	NewPassword    string
	RotatedAt      time.Time
	NextRotationAt *time.Time
}

// rescheduler is the slice of RotationScheduler the workflow needs.
type rescheduler interface {
	Schedule(accountID int64, due time.Time) error
}

// RotationWorkflow changes an account's password at the provider and records
// the result. Runs for the same account are serialised.
type RotationWorkflow struct {
	store     driven.AccountStore
	provider  driven.AccountProvider
	codes     *guard.Generator
	scheduler rescheduler
	locks     *accountLocks
	clock     clockwork.Clock
	metrics   *Metrics
	logger    *slog.Logger
	opts      WorkflowOptions

	retryMu sync.Mutex
	retries map[int64]backoff.BackOff
}

// NewRotationWorkflow creates a workflow. metrics and logger may be nil.
func NewRotationWorkflow(
	store driven.AccountStore,
	provider driven.AccountProvider,
	c clockwork.Clock,
	scheduler rescheduler,
	locks *accountLocks,
	metrics *Metrics,
	logger *slog.Logger,
	opts WorkflowOptions,
) *RotationWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = newAccountLocks()
	}
	if opts.PasswordLength <= 0 {
		opts.PasswordLength = DefaultPasswordLength
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultWorkflowOptions().ProviderTimeout
	}

	return &RotationWorkflow{
		store:     store,
		provider:  provider,
		codes:     guard.NewGenerator(c),
		scheduler: scheduler,
		locks:     locks,
		clock:     c,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		retries:   make(map[int64]backoff.BackOff),
	}
}

// Execute rotates the password of accountID now. An empty newPassword is
// replaced with a generated one. Nothing is persisted unless the provider
// accepted the change.
//
// Cancelling ctx only abandons the account lookup. Once the provider
// exchange starts it runs to completion under ProviderTimeout, and the
// store write is never cut short by the caller going away.
func (w *RotationWorkflow) Execute(ctx context.Context, accountID int64, newPassword string) (*RotationResult, error) {
	unlock := w.locks.lock(accountID)
	defer unlock()

	account, err := w.store.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}

	result, err := w.rotate(context.WithoutCancel(ctx), account, newPassword, triggerManual)
	if err != nil {
		return nil, err
	}
	w.forgetRetry(accountID)
	return result, nil
}

// RunScheduled is the fire handler for rotation timers. It skips accounts
// that were deleted, disabled, or rescheduled into the future since the
// timer was armed, and retries failures with backoff.
func (w *RotationWorkflow) RunScheduled(ctx context.Context, accountID int64) {
	unlock := w.locks.lock(accountID)
	defer unlock()

	account, err := w.store.Get(ctx, accountID)
	if errors.Is(err, driven.ErrAccountNotFound) {
		w.logger.Info("scheduled rotation skipped, account deleted", "account_id", accountID)
		w.forgetRetry(accountID)
		return
	}
	if err != nil {
		w.logger.Error("scheduled rotation could not load account", "account_id", accountID, "error", err)
		return
	}

	now := w.clock.Now()
	if !account.RotationEnabled || account.NextRotationAt == nil || account.NextRotationAt.After(now) {
		w.logger.Info("scheduled rotation skipped, schedule changed",
			"account_id", accountID,
			"rotation_enabled", account.RotationEnabled,
			"next_rotation_at", account.NextRotationAt,
		)
		return
	}

	if _, err := w.rotate(ctx, account, "", triggerScheduled); err != nil {
		w.scheduleRetry(accountID, err)
		return
	}
	w.forgetRetry(accountID)
}

// rotate runs the provider exchange and records the result. Callers hold
// the account lock.
func (w *RotationWorkflow) rotate(ctx context.Context, account *model.Account, newPassword, trigger string) (*RotationResult, error) {
	runID := uuid.NewString()
	started := w.clock.Now()
	logger := w.logger.With("run_id", runID, "account_id", account.ID, "login", account.Login, "trigger", trigger)

	result, err := w.exchange(ctx, account, newPassword, runID, logger)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		logger.Warn("password rotation failed", "error", err)
	}
	w.metrics.recordRotation(trigger, outcome, w.clock.Now().Sub(started).Seconds())
	return result, err
}

func (w *RotationWorkflow) exchange(
	ctx context.Context,
	account *model.Account,
	newPassword, runID string,
	logger *slog.Logger,
) (*RotationResult, error) {
	if newPassword == "" {
		generated, err := GeneratePassword(w.opts.PasswordLength)
		if err != nil {
			return nil, err
		}
		newPassword = generated
	}

	secret := account.Bundle.SharedSecret
	if secret == "" {
		return nil, fmt.Errorf("account %d: %w", account.ID, ErrMissingSecret)
	}
	code, err := w.codes.Code(secret)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", account.ID, err)
	}

	pctx, cancel := context.WithTimeout(ctx, w.opts.ProviderTimeout)
	defer cancel()

	session, err := w.provider.Authenticate(pctx, account.Login, account.Password)
	if err != nil {
		return nil, providerError("authenticate", err)
	}
	session, err = session.SubmitTwoFactorCode(pctx, code)
	if err != nil {
		return nil, providerError("submit two-factor code", err)
	}
	if err := session.ChangePassword(pctx, newPassword); err != nil {
		return nil, providerError("change password", err)
	}
	logger.Info("provider accepted new password")

	rotatedAt := w.clock.Now()
	var next *time.Time
	if account.RotationEnabled {
		n := rotatedAt.Add(account.RotationInterval())
		next = &n
	}

	if err := w.persist(ctx, account.ID, newPassword, rotatedAt, next); err != nil {
		logger.Error("password changed at provider but not stored", "error", err)
		return nil, fmt.Errorf("record rotation for account %d: %w", account.ID, err)
	}

	if next != nil {
		if err := w.scheduler.Schedule(account.ID, *next); err != nil {
			logger.Error("rotation stored but next timer not armed", "next_rotation_at", *next, "error", err)
		}
	}

	logger.Info("password rotated", "next_rotation_at", next)
	return &RotationResult{
		RunID:          runID,
		AccountID:      account.ID,
		Login:          account.Login,
		NewPassword:    newPassword,
		RotatedAt:      rotatedAt,
		NextRotationAt: next,
	}, nil
}

// persist writes the rotation outcome. The provider already holds the new
// password, so transient store failures are retried briefly.
func (w *RotationWorkflow) persist(ctx context.Context, id int64, password string, rotatedAt time.Time, next *time.Time) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 2),
		ctx,
	)
	return backoff.Retry(func() error {
		err := w.store.RecordRotation(ctx, id, password, rotatedAt, next)
		if errors.Is(err, driven.ErrAccountNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// scheduleRetry arms a retry timer for a failed scheduled rotation until
// the attempt budget runs out.
func (w *RotationWorkflow) scheduleRetry(accountID int64, cause error) {
	if w.opts.RetryMaxAttempts <= 0 {
		w.logger.Warn("scheduled rotation failed, account left unscheduled until re-enabled or rotated manually",
			"account_id", accountID, "error", cause)
		return
	}

	w.retryMu.Lock()
	b, ok := w.retries[accountID]
	if !ok {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = w.opts.RetryInitialInterval
		exp.MaxInterval = w.opts.RetryMaxInterval
		exp.Multiplier = 2
		exp.RandomizationFactor = 0
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = backoff.WithMaxRetries(exp, uint64(w.opts.RetryMaxAttempts))
		w.retries[accountID] = b
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		delete(w.retries, accountID)
	}
	w.retryMu.Unlock()

	if delay == backoff.Stop {
		w.logger.Error("scheduled rotation retries exhausted, account left unscheduled",
			"account_id", accountID, "attempts", w.opts.RetryMaxAttempts, "error", cause)
		return
	}

	due := w.clock.Now().Add(delay)
	if err := w.scheduler.Schedule(accountID, due); err != nil {
		w.logger.Error("could not arm rotation retry", "account_id", accountID, "error", err)
		return
	}
	w.logger.Info("scheduled rotation retry armed", "account_id", accountID, "retry_at", due, "error", cause)
}

func (w *RotationWorkflow) forgetRetry(accountID int64) {
	w.retryMu.Lock()
	delete(w.retries, accountID)
	w.retryMu.Unlock()
}

// providerError keeps the adapter's sentinel and classifies anything else,
// such as a context deadline, as a generic provider failure.
func providerError(step string, err error) error {
	if errors.Is(err, driven.ErrAuthentication) ||
		errors.Is(err, driven.ErrTwoFactor) ||
		errors.Is(err, driven.ErrProvider) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w: %w", step, driven.ErrProvider, err)
}
