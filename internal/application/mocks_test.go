package application_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

// testSecret is base64 for "secretsecretsecret".
const testSecret = "c2VjcmV0c2VjcmV0c2VjcmV0"

// --- In-memory AccountStore ---

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]model.Account

	recordErr error
	deleteErr error
	records   int
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[int64]model.Account)}
}

func (m *memStore) Add(_ context.Context, in model.NewAccount) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Login == in.Login {
			return 0, driven.ErrDuplicateLogin
		}
	}
	m.nextID++
	nickname := in.Nickname
	if nickname == "" {
		nickname = in.Login
	}
	m.accounts[m.nextID] = model.Account{
		ID:                    m.nextID,
		Login:                 in.Login,
		Password:              in.Password,
		Bundle:                in.Bundle,
		Nickname:              nickname,
		RotationIntervalHours: 24,
	}
	return m.nextID, nil
}

// put stores a fully specified account, bypassing Add.
func (m *memStore) put(a model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID > m.nextID {
		m.nextID = a.ID
	}
	m.accounts[a.ID] = a
}

func (m *memStore) snapshot(id int64) (model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records
}

func (m *memStore) List(_ context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListScheduled(_ context.Context) ([]model.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ScheduleEntry, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, model.ScheduleEntry{
			ID:                    a.ID,
			Login:                 a.Login,
			RotationEnabled:       a.RotationEnabled,
			RotationIntervalHours: a.RotationIntervalHours,
			NextRotationAt:        a.NextRotationAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Get(_ context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, driven.ErrAccountNotFound
	}
	return &a, nil
}

func (m *memStore) UpdatePassword(_ context.Context, id int64, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.Password = password
	m.accounts[id] = a
	return nil
}

func (m *memStore) UpdateRotationSchedule(_ context.Context, id int64, enabled bool, intervalHours int, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.RotationEnabled = enabled
	a.RotationIntervalHours = intervalHours
	a.NextRotationAt = next
	m.accounts[id] = a
	return nil
}

func (m *memStore) RecordRotation(ctx context.Context, id int64, password string, rotatedAt time.Time, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.recordErr != nil {
		return m.recordErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.Password = password
	a.LastRotationAt = &rotatedAt
	a.NextRotationAt = next
	m.accounts[id] = a
	m.records++
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.accounts[id]; !ok {
		return driven.ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

// --- Scripted AccountProvider ---

type fakeProvider struct {
	mu sync.Mutex

	authErr   error
	twoFAErr  error
	changeErr error

	// afterChange runs once the provider has accepted a new password.
	afterChange func()

	authCalls int
	codes     []string
	changed   []string
}

func (p *fakeProvider) Authenticate(_ context.Context, _, _ string) (driven.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.authCalls++
	if p.authErr != nil {
		return nil, p.authErr
	}
	return &fakeSession{p: p}, nil
}

func (p *fakeProvider) authCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authCalls
}

func (p *fakeProvider) changedPasswords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.changed...)
}

type fakeSession struct {
	p *fakeProvider
}

func (s *fakeSession) SubmitTwoFactorCode(_ context.Context, code string) (driven.ProviderSession, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	s.p.codes = append(s.p.codes, code)
	if s.p.twoFAErr != nil {
		return nil, s.p.twoFAErr
	}
	return s, nil
}

func (s *fakeSession) ChangePassword(ctx context.Context, newPassword string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.p.changeErr != nil {
		return s.p.changeErr
	}
	s.p.changed = append(s.p.changed, newPassword)
	if s.p.afterChange != nil {
		s.p.afterChange()
	}
	return nil
}

// --- Recording rescheduler ---

type recordingScheduler struct {
	mu    sync.Mutex
	calls map[int64]time.Time
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{calls: make(map[int64]time.Time)}
}

func (r *recordingScheduler) Schedule(id int64, due time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = due
	return nil
}

func (r *recordingScheduler) due(id int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.calls[id]
	return t, ok
}
