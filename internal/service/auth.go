// Package service holds the authentication guard and the record lifecycle
// manager. Persistence is delegated to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/CareKeeper/internal/auth"
	"github.com/atinyakov/CareKeeper/internal/metrics"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
	"go.uber.org/zap"
)

// AccountRepository defines the persistence operations required by the
// authentication service.
type AccountRepository interface {
	Create(ctx context.Context, a *models.Account) error
	// GetByUsername returns repository.ErrNotFound for unknown users.
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	Update(ctx context.Context, a *models.Account) error
	List(ctx context.Context) ([]models.Account, error)
	Delete(ctx context.Context, username string) error
}

// AttemptLog receives one entry per authentication call.
type AttemptLog interface {
	Append(a models.LoginAttempt) error
}

// FailureReason explains a refused authentication.
type FailureReason string

const (
	// ReasonLocked means the account was already locked; the password was
	// not checked.
	ReasonLocked FailureReason = "locked"
	// ReasonLockedOut means this failure reached the threshold.
	ReasonLockedOut FailureReason = "locked after repeated failures"
	// ReasonBadCredentials covers a wrong password and an unknown username.
	ReasonBadCredentials FailureReason = "bad credentials"

	reasonUnknownUser = "unknown user"

	// unknownUserPassword is hashed once in NewAuthService. Unknown
	// usernames are verified against its digest.
	unknownUserPassword = "carekeeper:unknown-user"
)

// AuthPolicy configures the lockout guard.
type AuthPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultAuthPolicy locks an account for 15 minutes after 3 failures.
var DefaultAuthPolicy = AuthPolicy{MaxFailedAttempts: 3, LockoutDuration: 15 * time.Minute}

// AuthResult is the typed outcome of Authenticate. Exactly one of Account
// and Reason is set.
type AuthResult struct {
	Account *models.Account
	Reason  FailureReason
	// Attempts is the consecutive failure count after this call.
	Attempts int
	// Remaining is the number of failures left before lockout.
	Remaining int
	// LockedUntil is set when Reason is ReasonLocked or ReasonLockedOut.
	LockedUntil time.Time
}

// OK reports whether authentication succeeded.
func (r AuthResult) OK() bool { return r.Account != nil }

// NewAccount is the registration payload.
type NewAccount struct {
	Username string `json:"username" validate:"required,min=3,max=64,excludesall=0x7C"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     string `json:"role"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithClock replaces the wall clock.
func WithClock(c Clock) AuthOption { return func(s *AuthService) { s.clock = c } }

// WithPolicy replaces DefaultAuthPolicy.
func WithPolicy(p AuthPolicy) AuthOption { return func(s *AuthService) { s.policy = p } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) AuthOption { return func(s *AuthService) { s.log = l } }

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) AuthOption { return func(s *AuthService) { s.metrics = m } }

// WithAdmin names the built-in administrator that DeleteAccount refuses.
func WithAdmin(username string) AuthOption { return func(s *AuthService) { s.admin = username } }

// AuthService guards logins with a lockout policy and manages accounts.
type AuthService struct {
	repo     AccountRepository
	attempts AttemptLog
	hasher   auth.Hasher

	clock   Clock
	policy  AuthPolicy
	log     *zap.Logger
	metrics *metrics.Metrics
	admin   string
	locks   *keyMutex

	unknownDigest string
}

// NewAuthService constructs an AuthService. attempts may be nil.
func NewAuthService(repo AccountRepository, attempts AttemptLog, hasher auth.Hasher, opts ...AuthOption) *AuthService {
	s := &AuthService{
		repo:     repo,
		attempts: attempts,
		hasher:   hasher,
		clock:    SystemClock{},
		policy:   DefaultAuthPolicy,
		log:      zap.NewNop(),
		locks:    newKeyMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = auth.SHA256Hasher{}
	}
	s.unknownDigest, _ = s.hasher.Hash(unknownUserPassword)
	return s
}

// HashPassword digests plaintext with the configured hasher.
func (s *AuthService) HashPassword(plaintext string) (string, error) {
	return s.hasher.Hash(plaintext)
}

// Authenticate checks username and password against the lockout policy.
// Refusals are reported through AuthResult; the error is reserved for
// storage faults, in which case nothing was persisted.
func (s *AuthService) Authenticate(ctx context.Context, username, password, origin string) (AuthResult, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	now := s.clock.Now()

	acc, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Verify(s.unknownDigest, password)
		s.recordAttempt(now, username, origin, models.LoginFailed, reasonUnknownUser)
		return AuthResult{Reason: ReasonBadCredentials, Remaining: s.policy.MaxFailedAttempts}, nil
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("load account %q: %w", username, err)
	}

	if acc.LockedAt(now) {
		s.recordAttempt(now, username, origin, models.LoginFailed, string(ReasonLocked))
		return AuthResult{Reason: ReasonLocked, Attempts: acc.FailedAttempts, LockedUntil: *acc.LockUntil}, nil
	}
	if acc.LockUntil != nil {
		// lock expired: the next attempt starts a fresh series
		acc.ResetCounters()
	}

	if s.hasher.Verify(acc.PasswordHash, password) {
		acc.ResetCounters()
		if err := s.repo.Update(ctx, acc); err != nil {
			return AuthResult{}, fmt.Errorf("reset counters for %q: %w", username, err)
		}
		s.recordAttempt(now, username, origin, models.LoginSuccess, "")
		s.log.Info("login succeeded", zap.String("username", username), zap.String("origin", origin))
		return AuthResult{Account: acc}, nil
	}

	acc.FailedAttempts++
	res := AuthResult{Reason: ReasonBadCredentials, Attempts: acc.FailedAttempts}
	if acc.FailedAttempts >= s.policy.MaxFailedAttempts {
		until := now.Add(s.policy.LockoutDuration)
		acc.LockUntil = &until
		res.Reason = ReasonLockedOut
		res.LockedUntil = until
	} else {
		res.Remaining = s.policy.MaxFailedAttempts - acc.FailedAttempts
	}

	if err := s.repo.Update(ctx, acc); err != nil {
		return AuthResult{}, fmt.Errorf("record failure for %q: %w", username, err)
	}
	s.recordAttempt(now, username, origin, models.LoginFailed, string(res.Reason))

	if res.Reason == ReasonLockedOut {
		s.metrics.Lockout()
		s.log.Warn("account locked",
			zap.String("username", username),
			zap.Int("attempts", acc.FailedAttempts),
			zap.Time("lockUntil", res.LockedUntil),
		)
	} else {
		s.log.Warn("login failed",
			zap.String("username", username),
			zap.Int("attempts", acc.FailedAttempts),
			zap.Int("remaining", res.Remaining),
		)
	}
	return res, nil
}

func (s *AuthService) recordAttempt(now time.Time, username, origin string, outcome models.LoginOutcome, reason string) {
	s.metrics.LoginAttempt(string(outcome), reason)
	if s.attempts == nil {
		return
	}
	err := s.attempts.Append(models.LoginAttempt{
		Timestamp: now,
		Username:  username,
		Origin:    origin,
		Outcome:   outcome,
		Reason:    reason,
	})
	if err != nil {
		s.log.Error("append login attempt", zap.String("username", username), zap.Error(err))
	}
}

// Unlock clears the lockout counters of username. Only administrators may
// call it.
func (s *AuthService) Unlock(ctx context.Context, session models.Session, username string) error {
	if !session.IsAdmin() {
		return ErrForbidden
	}
	return s.unlock(ctx, username, session.Username)
}

// EmergencyUnlock clears the counters of username on behalf of the local
// operator. It is only reachable from process start-up.
func (s *AuthService) EmergencyUnlock(ctx context.Context, username string) error {
	return s.unlock(ctx, username, "operator")
}

func (s *AuthService) unlock(ctx context.Context, username, actor string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	acc, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("load account %q: %w", username, err)
	}
	acc.ResetCounters()
	if err := s.repo.Update(ctx, acc); err != nil {
		return fmt.Errorf("unlock %q: %w", username, err)
	}
	s.log.Info("account unlocked", zap.String("username", username), zap.String("actor", actor))
	return nil
}

// Register creates an account. Only administrators may call it. Unknown
// roles fall back to VISITOR.
func (s *AuthService) Register(ctx context.Context, session models.Session, in NewAccount) (*models.Account, error) {
	if !session.CanManageAccounts() {
		return nil, ErrForbidden
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := validate.StructCtx(ctx, in); err != nil {
		return nil, validationError(ErrInvalidAccount, err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acc := &models.Account{
		Username:     in.Username,
		PasswordHash: digest,
		Role:         models.ParseRole(in.Role),
		Email:        in.Email,
		Phone:        in.Phone,
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("create account %q: %w", in.Username, err)
	}
	s.log.Info("account registered",
		zap.String("username", acc.Username),
		zap.String("role", string(acc.Role)),
		zap.String("actor", session.Username),
	)
	return acc, nil
}

// EnsureAdmin creates the built-in administrator when it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load account %q: %w", username, err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.repo.Create(ctx, &models.Account{Username: username, PasswordHash: digest, Role: models.RoleAdmin})
	if errors.Is(err, repository.ErrAlreadyExists) {
		// created concurrently by another process
		return nil
	}
	if err != nil {
		return fmt.Errorf("create admin %q: %w", username, err)
	}
	s.log.Info("administrator account created", zap.String("username", username))
	return nil
}

// ChangePassword replaces the password of username. Users may change their
// own password; administrators may change anyone's.
func (s *AuthService) ChangePassword(ctx context.Context, session models.Session, username, password string) error {
	if session.Username != username && !session.IsAdmin() {
		return ErrForbidden
	}
	if err := validate.VarCtx(ctx, password, "required,min=6,max=128"); err != nil {
		return validationError(ErrInvalidAccount, err)
	}

	unlock := s.locks.Lock(username)
	defer unlock()

	acc, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("load account %q: %w", username, err)
	}
	if acc.PasswordHash, err = s.hasher.Hash(password); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.Update(ctx, acc); err != nil {
		return fmt.Errorf("update account %q: %w", username, err)
	}
	s.log.Info("password changed", zap.String("username", username), zap.String("actor", session.Username))
	return nil
}

// DeleteAccount removes an account. The built-in administrator cannot be
// removed.
func (s *AuthService) DeleteAccount(ctx context.Context, session models.Session, username string) error {
	if !session.CanManageAccounts() {
		return ErrForbidden
	}
	if s.admin != "" && username == s.admin {
		return ErrProtectedAccount
	}
	if err := s.repo.Delete(ctx, username); err != nil {
		return fmt.Errorf("delete account %q: %w", username, err)
	}
	s.log.Info("account deleted", zap.String("username", username), zap.String("actor", session.Username))
	return nil
}

// Accounts lists every account. Only administrators may call it.
func (s *AuthService) Accounts(ctx context.Context, session models.Session) ([]models.Account, error) {
	if !session.CanManageAccounts() {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx)
}
