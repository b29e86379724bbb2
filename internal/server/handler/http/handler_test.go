package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
	"github.com/atinyakov/CareKeeper/internal/service"
	"go.uber.org/zap"
)

// fakeAuthService implements AuthService for testing.
type fakeAuthService struct {
	result    service.AuthResult
	authErr   error
	err       error
	gotOrigin string
	gotUser   string
	gotSess   models.Session
}

func (f *fakeAuthService) Authenticate(_ context.Context, username, _, origin string) (service.AuthResult, error) {
	f.gotUser, f.gotOrigin = username, origin
	return f.result, f.authErr
}

func (f *fakeAuthService) Register(_ context.Context, s models.Session, in service.NewAccount) (*models.Account, error) {
	f.gotSess = s
	if f.err != nil {
		return nil, f.err
	}
	return &models.Account{Username: in.Username, Role: models.ParseRole(in.Role)}, nil
}

func (f *fakeAuthService) Unlock(_ context.Context, s models.Session, username string) error {
	f.gotSess, f.gotUser = s, username
	return f.err
}

func (f *fakeAuthService) ChangePassword(_ context.Context, s models.Session, username, _ string) error {
	f.gotSess, f.gotUser = s, username
	return f.err
}

func (f *fakeAuthService) DeleteAccount(_ context.Context, s models.Session, username string) error {
	f.gotSess, f.gotUser = s, username
	return f.err
}

func (f *fakeAuthService) Accounts(_ context.Context, s models.Session) ([]models.Account, error) {
	f.gotSess = s
	return []models.Account{{Username: "admin", Role: models.RoleAdmin, PasswordHash: "secret-digest"}}, f.err
}

type fakeIssuer struct{ err error }

func (f fakeIssuer) Issue(s models.Session) (string, time.Time, error) {
	return "token-for-" + s.Username, time.Date(2026, 10, 16, 17, 0, 0, 0, time.UTC), f.err
}

// testAccounts backs stubSessions and stubAccounts.
var testAccounts = map[string]*models.Account{
	"admin": {Username: "admin", PasswordHash: "admin-digest", Role: models.RoleAdmin},
	"nurse": {Username: "nurse", PasswordHash: "nurse-digest", Role: models.RoleCaregiver},
	"guest": {Username: "guest", PasswordHash: "guest-digest", Role: models.RoleVisitor},
}

// stubSessions accepts "Bearer <role>" tokens.
type stubSessions struct{}

func (stubSessions) Parse(token string) (models.Session, error) {
	switch token {
	case "admin":
		return models.SessionFor(testAccounts["admin"]), nil
	case "caregiver":
		return models.SessionFor(testAccounts["nurse"]), nil
	case "visitor":
		return models.SessionFor(testAccounts["guest"]), nil
	}
	return models.Session{}, errors.New("invalid")
}

type stubAccounts struct{}

func (stubAccounts) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	a, ok := testAccounts[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// fakeRecords implements RecordService for patients.
type fakeRecords struct {
	recs      map[string]*models.Patient
	outcome   service.Outcome
	err       error
	gotActor  string
	gotStatus models.Status
	gotYears  int
}

func (f *fakeRecords) Create(_ context.Context, p *models.Patient, actor string) (*models.Patient, error) {
	f.gotActor = actor
	if f.err != nil {
		return nil, f.err
	}
	p.ID = "new-id"
	p.Status = models.StatusActive
	return p, nil
}

func (f *fakeRecords) Edit(_ context.Context, p *models.Patient, actor string) (*models.Patient, error) {
	f.gotActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return p, nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*models.Patient, error) {
	p, ok := f.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeRecords) List(context.Context) ([]*models.Patient, error) {
	var out []*models.Patient
	for _, p := range f.recs {
		out = append(out, p)
	}
	return out, f.err
}

func (f *fakeRecords) Lock(_ context.Context, _, actor string) (service.Outcome, error) {
	f.gotActor = actor
	return f.outcome, f.err
}

func (f *fakeRecords) Delete(_ context.Context, _, actor string) (service.Outcome, error) {
	f.gotActor = actor
	return f.outcome, f.err
}

func (f *fakeRecords) FindByStatus(_ context.Context, s models.Status) ([]*models.Patient, error) {
	f.gotStatus = s
	return nil, f.err
}

func (f *fakeRecords) FindOlderThan(_ context.Context, years int) ([]*models.Patient, error) {
	f.gotYears = years
	if years < 0 {
		return nil, service.ErrNegativeAge
	}
	return nil, f.err
}

type fakeTrail struct {
	limit int
	err   error
}

func (f *fakeTrail) RecentLogins(s models.Session, n int) ([]models.LoginAttempt, error) {
	f.limit = n
	return []models.LoginAttempt{{Username: "admin", Outcome: models.LoginSuccess}}, f.err
}

func (f *fakeTrail) RecentStatusChanges(_ context.Context, s models.Session, n int) ([]models.StatusChange, error) {
	f.limit = n
	return nil, f.err
}

type testServer struct {
	auth    *fakeAuthService
	records *fakeRecords
	trail   *fakeTrail
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		auth:    &fakeAuthService{},
		records: &fakeRecords{recs: map[string]*models.Patient{}},
		trail:   &fakeTrail{},
	}
	now := func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	ts.handler = NewRouter(
		&AuthHandler{AuthService: ts.auth, Issuer: fakeIssuer{}, Logger: zap.NewNop(), Now: now},
		&AuditHandler{Trail: ts.trail, Logger: zap.NewNop()},
		stubSessions{},
		stubAccounts{},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		zap.NewNop(),
		&RecordHandler[*models.Patient]{
			Path:     "/patients",
			Service:  ts.records,
			New:      func() *models.Patient { return &models.Patient{} },
			CanWrite: models.Session.CanManagePatients,
			Logger:   zap.NewNop(),
		},
	)
	return ts
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d; want %d (body %q)", rec.Code, want, strings.TrimSpace(rec.Body.String()))
	}
}

func httpRecorderWithType(ts *testServer, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}
