package application

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
)

// FireFunc runs when an account's rotation timer comes due. It is called
// on its own goroutine.
type FireFunc func(accountID int64)

// RotationScheduler keeps at most one armed timer per account and calls the
// fire handler when a timer comes due. Timers are process-local; the
// persisted next-rotation time is the durable record and Reconcile rebuilds
// the timers from it at startup.
type RotationScheduler struct {
	clock   clockwork.Clock
	fire    FireFunc
	metrics *Metrics

	mu      sync.Mutex
	timers  map[int64]*armedTimer
	gen     uint64
	stopped bool

	inflight sync.WaitGroup
}

type armedTimer struct {
	timer clockwork.Timer
	due   time.Time
	gen   uint64
}

// NewRotationScheduler creates a scheduler that calls fire for due accounts.
// metrics may be nil.
func NewRotationScheduler(c clockwork.Clock, fire FireFunc, metrics *Metrics) *RotationScheduler {
	return &RotationScheduler{
		clock:   c,
		fire:    fire,
		metrics: metrics,
		timers:  make(map[int64]*armedTimer),
	}
}

// Schedule arms a timer for accountID at due, replacing any timer already
// armed for it. A due time at or before now fires immediately.
func (s *RotationScheduler) Schedule(accountID int64, due time.Time) error {
	if accountID <= 0 {
		return fmt.Errorf("%w: invalid account id %d", ErrScheduling, accountID)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: scheduler stopped", ErrScheduling)
	}

	s.disarmLocked(accountID)

	delay := due.Sub(s.clock.Now())
	if delay <= 0 {
		s.inflight.Add(1)
		s.metrics.setArmedTimers(len(s.timers))
		s.mu.Unlock()

		slog.Info("rotation overdue, firing now", "account_id", accountID, "due", due)
		go s.run(accountID)
		return nil
	}

	s.gen++
	gen := s.gen
	s.timers[accountID] = &armedTimer{
		due:   due,
		gen:   gen,
		timer: s.clock.AfterFunc(delay, func() { s.fired(accountID, gen) }),
	}
	s.metrics.setArmedTimers(len(s.timers))
	s.mu.Unlock()

	slog.Debug("rotation timer armed", "account_id", accountID, "due", due)
	return nil
}

// Cancel disarms the timer for accountID. Cancelling an account with no
// timer is a no-op.
func (s *RotationScheduler) Cancel(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disarmLocked(accountID) {
		slog.Debug("rotation timer cancelled", "account_id", accountID)
	}
	s.metrics.setArmedTimers(len(s.timers))
}

// Armed returns the due time of the timer armed for accountID.
func (s *RotationScheduler) Armed(accountID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[accountID]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Len returns the number of armed timers.
func (s *RotationScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Reconcile arms a timer for every enabled entry that has a persisted next
// rotation time. Entries whose time already passed fire immediately. It
// returns how many timers were armed and how many runs were started.
func (s *RotationScheduler) Reconcile(entries []model.ScheduleEntry) (armed, caughtUp int, err error) {
	now := s.clock.Now()

	for _, e := range entries {
		if !e.RotationEnabled || e.NextRotationAt == nil {
			continue
		}
		if err := s.Schedule(e.ID, *e.NextRotationAt); err != nil {
			return armed, caughtUp, fmt.Errorf("reconcile account %d: %w", e.ID, err)
		}
		if e.NextRotationAt.After(now) {
			armed++
		} else {
			caughtUp++
		}
	}
	return armed, caughtUp, nil
}

// Stop disarms every timer and waits for fire handlers already running.
// Schedule fails after Stop.
func (s *RotationScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.metrics.setArmedTimers(0)
	s.mu.Unlock()

	s.inflight.Wait()
}

// disarmLocked stops and forgets the timer for id. Callers hold s.mu.
func (s *RotationScheduler) disarmLocked(id int64) bool {
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.timers, id)
	return true
}

// fired runs on the clock's goroutine. A generation mismatch means the
// timer was replaced or cancelled after it started firing.
func (s *RotationScheduler) fired(accountID int64, gen uint64) {
	s.mu.Lock()
	t, ok := s.timers[accountID]
	if !ok || t.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, accountID)
	s.inflight.Add(1)
	s.metrics.setArmedTimers(len(s.timers))
	s.mu.Unlock()

	go s.run(accountID)
}

func (s *RotationScheduler) run(accountID int64) {
	defer s.inflight.Done()
	s.fire(accountID)
}
