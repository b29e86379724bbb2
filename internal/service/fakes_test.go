package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockAccountRepo is an in-memory AccountRepository. The Err fields inject
// storage faults.
type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	updates  int

	GetErr    error
	UpdateErr error
	CreateErr error
}

func newMockAccountRepo(accounts ...models.Account) *mockAccountRepo {
	m := &mockAccountRepo{accounts: make(map[string]models.Account)}
	for _, a := range accounts {
		m.accounts[a.Username] = a
	}
	return m
}

func (m *mockAccountRepo) Create(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.accounts[a.Username]; ok {
		return repository.ErrAlreadyExists
	}
	m.accounts[a.Username] = *a
	return nil
}

func (m *mockAccountRepo) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	a, ok := m.accounts[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if a.LockUntil != nil {
		t := *a.LockUntil
		a.LockUntil = &t
	}
	return &a, nil
}

func (m *mockAccountRepo) Update(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.accounts[a.Username]; !ok {
		return repository.ErrNotFound
	}
	m.updates++
	m.accounts[a.Username] = *a
	return nil
}

func (m *mockAccountRepo) List(context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *mockAccountRepo) Delete(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[username]; !ok {
		return repository.ErrNotFound
	}
	delete(m.accounts, username)
	return nil
}

func (m *mockAccountRepo) stored(username string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[username]
}

type mockAttemptLog struct {
	mu      sync.Mutex
	entries []models.LoginAttempt
	Err     error
}

func (l *mockAttemptLog) Append(a models.LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.entries = append(l.entries, a)
	return nil
}

func (l *mockAttemptLog) Recent(n int) ([]models.LoginAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LoginAttempt
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// memStore is an in-memory RecordStore keyed by id.
type memStore[R models.Record] struct {
	mu      sync.Mutex
	records map[string]R
	clone   func(R) R
	updates int

	UpdateErr error
	ReadErr   error
}

func newMemStore[R models.Record](clone func(R) R, recs ...R) *memStore[R] {
	s := &memStore[R]{records: make(map[string]R), clone: clone}
	for _, r := range recs {
		s.records[r.RecordID()] = clone(r)
	}
	return s
}

func (s *memStore[R]) Read(_ context.Context, id string) (R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero R
	if s.ReadErr != nil {
		return zero, s.ReadErr
	}
	r, ok := s.records[id]
	if !ok {
		return zero, repository.ErrNotFound
	}
	return s.clone(r), nil
}

func (s *memStore[R]) ReadAll(context.Context) ([]R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]R, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.clone(s.records[id]))
	}
	return out, nil
}

func (s *memStore[R]) Create(_ context.Context, r R) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.RecordID()]; ok {
		return repository.ErrAlreadyExists
	}
	s.records[r.RecordID()] = s.clone(r)
	return nil
}

func (s *memStore[R]) Update(_ context.Context, r R) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.records[r.RecordID()]; !ok {
		return repository.ErrNotFound
	}
	s.updates++
	s.records[r.RecordID()] = s.clone(r)
	return nil
}

func (s *memStore[R]) get(id string) R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.records[id])
}

func clonePatient(p *models.Patient) *models.Patient       { c := *p; return &c }
func cloneCaregiver(c *models.Caregiver) *models.Caregiver { x := *c; return &x }
func cloneTreatment(t *models.Treatment) *models.Treatment { x := *t; return &x }

type mockStatusLog struct {
	mu      sync.Mutex
	entries []models.StatusChange
	Err     error
}

func (l *mockStatusLog) Append(_ context.Context, c models.StatusChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.entries = append(l.entries, c)
	return nil
}

func (l *mockStatusLog) Recent(_ context.Context, n int) ([]models.StatusChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []models.StatusChange
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *mockStatusLog) all() []models.StatusChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.StatusChange(nil), l.entries...)
}

var errStorage = &repository.StorageError{Op: "update", Err: errors.New("disk I/O error")}
