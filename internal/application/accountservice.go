package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
	"github.com/ericfisherdev/rotavault/internal/guard"
)

// DefaultIntervalHours is the rotation interval used when none is given.
const DefaultIntervalHours = 24

// ServiceOptions configures an AccountService.
type ServiceOptions struct {
	DefaultIntervalHours int
	Workflow             WorkflowOptions
}

// AddAccountInput is the payload for creating an account.
type AddAccountInput struct {
	Login    string
	Password string
	Bundle   json.RawMessage
	Nickname string
}

// CodeResult is a generated one-time code and how long it stays valid.
type CodeResult struct {
	Code             string
	SecondsRemaining int
}

// RestoreSummary reports what Restore did at startup.
type RestoreSummary struct {
	Armed    int
	CaughtUp int
	Repaired int
}

// AccountService is the facade used by the HTTP API and CLI. It owns the
// rotation scheduler and workflow so that every mutation of an account's
// schedule goes through the same per-account lock.
type AccountService struct {
	store     driven.AccountStore
	clock     clockwork.Clock
	codes     *guard.Generator
	locks     *accountLocks
	scheduler *RotationScheduler
	workflow  *RotationWorkflow
	metrics   *Metrics
	logger    *slog.Logger

	defaultInterval int
}

// NewAccountService wires the scheduler and workflow around store and
// provider. metrics and logger may be nil.
func NewAccountService(
	store driven.AccountStore,
	provider driven.AccountProvider,
	c clockwork.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	opts ServiceOptions,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultIntervalHours <= 0 {
		opts.DefaultIntervalHours = DefaultIntervalHours
	}

	s := &AccountService{
		store:           store,
		clock:           c,
		codes:           guard.NewGenerator(c),
		locks:           newAccountLocks(),
		metrics:         metrics,
		logger:          logger,
		defaultInterval: opts.DefaultIntervalHours,
	}
	s.scheduler = NewRotationScheduler(c, func(id int64) {
		s.workflow.RunScheduled(context.Background(), id)
	}, metrics)
	s.workflow = NewRotationWorkflow(store, provider, c, s.scheduler, s.locks, metrics, logger, opts.Workflow)

	return s
}

// Scheduler exposes the rotation scheduler for health reporting.
func (s *AccountService) Scheduler() *RotationScheduler {
	return s.scheduler
}

// ListAccounts returns the secret-free view of every readable account.
func (s *AccountService) ListAccounts(ctx context.Context) ([]model.AccountView, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	now := s.clock.Now()
	return lo.Map(accounts, func(a model.Account, _ int) model.AccountView {
		return a.View(now)
	}), nil
}

// AddAccount validates and stores a new account. Rotation starts disabled.
func (s *AccountService) AddAccount(ctx context.Context, in AddAccountInput) (int64, error) {
	in.Login = strings.TrimSpace(in.Login)
	in.Nickname = strings.TrimSpace(in.Nickname)

	switch {
	case in.Login == "":
		return 0, fmt.Errorf("%w: login is required", ErrValidation)
	case in.Password == "":
		return 0, fmt.Errorf("%w: password is required", ErrValidation)
	case len(in.Bundle) == 0:
		return 0, fmt.Errorf("%w: secret bundle is required", ErrValidation)
	}

	if err := ValidateSecretBundle(in.Bundle); err != nil {
		return 0, err
	}
	bundle, err := model.ParseSecretBundle(in.Bundle)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	id, err := s.store.Add(ctx, model.NewAccount{
		Login:    in.Login,
		Password: in.Password,
		Bundle:   bundle,
		Nickname: in.Nickname,
	})
	if err != nil {
		return 0, fmt.Errorf("add account %s: %w", in.Login, err)
	}

	s.logger.Info("account added", "account_id", id, "login", in.Login)
	return id, nil
}

// GenerateCode returns the current one-time code for accountID.
func (s *AccountService) GenerateCode(ctx context.Context, accountID int64) (CodeResult, error) {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return CodeResult{}, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if account.Bundle.SharedSecret == "" {
		return CodeResult{}, fmt.Errorf("account %d: %w", accountID, ErrMissingSecret)
	}

	code, err := s.codes.Code(account.Bundle.SharedSecret)
	if err != nil {
		return CodeResult{}, fmt.Errorf("account %d: %w", accountID, err)
	}
	s.metrics.recordCode()

	return CodeResult{Code: code, SecondsRemaining: s.codes.SecondsRemaining()}, nil
}

// ChangePassword rotates the password now. An empty newPassword asks the
// workflow to generate one.
func (s *AccountService) ChangePassword(ctx context.Context, accountID int64, newPassword string) (*RotationResult, error) {
	return s.workflow.Execute(ctx, accountID, newPassword)
}

// SetRotation enables or disables automatic rotation. An intervalHours of
// zero selects the configured default. Enabling always restarts the
// countdown from now.
func (s *AccountService) SetRotation(ctx context.Context, accountID int64, enabled bool, intervalHours int) (*time.Time, error) {
	if intervalHours == 0 {
		intervalHours = s.defaultInterval
	}
	if intervalHours < 1 {
		return nil, fmt.Errorf("%w: rotation interval must be at least 1 hour", ErrValidation)
	}

	unlock := s.locks.lock(accountID)
	defer unlock()

	if !enabled {
		previous, wasArmed := s.scheduler.Armed(accountID)
		s.scheduler.Cancel(accountID)
		s.workflow.forgetRetry(accountID)

		if err := s.store.UpdateRotationSchedule(ctx, accountID, false, intervalHours, nil); err != nil {
			if wasArmed {
				s.rearm(accountID, previous)
			}
			return nil, fmt.Errorf("disable rotation for account %d: %w", accountID, err)
		}
		s.logger.Info("rotation disabled", "account_id", accountID)
		return nil, nil
	}

	next := s.clock.Now().Add(time.Duration(intervalHours) * time.Hour)
	if err := s.store.UpdateRotationSchedule(ctx, accountID, true, intervalHours, &next); err != nil {
		return nil, fmt.Errorf("enable rotation for account %d: %w", accountID, err)
	}
	s.workflow.forgetRetry(accountID)
	if err := s.scheduler.Schedule(accountID, next); err != nil {
		return &next, fmt.Errorf("arm rotation for account %d: %w", accountID, err)
	}

	s.logger.Info("rotation enabled", "account_id", accountID, "interval_hours", intervalHours, "next_rotation_at", next)
	return &next, nil
}

// DeleteAccount disarms the account's timer and removes it.
func (s *AccountService) DeleteAccount(ctx context.Context, accountID int64) error {
	unlock := s.locks.lock(accountID)
	defer unlock()

	previous, wasArmed := s.scheduler.Armed(accountID)
	s.scheduler.Cancel(accountID)

	if err := s.store.Delete(ctx, accountID); err != nil {
		if wasArmed && !errors.Is(err, driven.ErrAccountNotFound) {
			s.rearm(accountID, previous)
		}
		return fmt.Errorf("delete account %d: %w", accountID, err)
	}
	s.workflow.forgetRetry(accountID)

	s.logger.Info("account deleted", "account_id", accountID)
	return nil
}

// Restore rebuilds rotation timers from persisted state. Enabled accounts
// missing a due time get one interval from now; overdue accounts rotate
// immediately.
func (s *AccountService) Restore(ctx context.Context) (RestoreSummary, error) {
	entries, err := s.store.ListScheduled(ctx)
	if err != nil {
		return RestoreSummary{}, fmt.Errorf("restore schedules: %w", err)
	}

	var summary RestoreSummary
	now := s.clock.Now()
	for i, e := range entries {
		if !e.RotationEnabled || e.NextRotationAt != nil {
			continue
		}
		next := now.Add(time.Duration(e.RotationIntervalHours) * time.Hour)
		if err := s.store.UpdateRotationSchedule(ctx, e.ID, true, e.RotationIntervalHours, &next); err != nil {
			s.logger.Error("could not repair rotation schedule", "account_id", e.ID, "error", err)
			continue
		}
		entries[i].NextRotationAt = &next
		summary.Repaired++
	}

	summary.Armed, summary.CaughtUp, err = s.scheduler.Reconcile(entries)
	if err != nil {
		return summary, err
	}

	s.logger.Info("rotation schedules restored",
		"armed", summary.Armed,
		"caught_up", summary.CaughtUp,
		"repaired", summary.Repaired,
	)
	return summary, nil
}

// Close stops all timers and waits for rotations already running.
func (s *AccountService) Close() {
	s.scheduler.Stop()
}

func (s *AccountService) rearm(accountID int64, due time.Time) {
	if err := s.scheduler.Schedule(accountID, due); err != nil {
		s.logger.Error("could not restore rotation timer", "account_id", accountID, "error", err)
	}
}
