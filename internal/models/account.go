// Package models defines the core data structures for accounts, sessions
// and clinical records.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Role determines which operations an account may perform.
type Role string

const (
	// RoleAdmin manages caregivers, patients, treatments and user accounts.
	RoleAdmin Role = "ADMIN"
	// RoleCaregiver manages patients and treatments.
	RoleCaregiver Role = "CAREGIVER"
	// RoleVisitor has read-only access.
	RoleVisitor Role = "VISITOR"
)

// ParseRole decodes a textual role. Unknown values decode to RoleVisitor.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCaregiver:
		return RoleCaregiver
	default:
		return RoleVisitor
	}
}

// IsAdmin reports whether the role is RoleAdmin.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// IsCaregiver reports whether the role is RoleCaregiver.
func (r Role) IsCaregiver() bool { return r == RoleCaregiver }

// CanManagePatients reports whether the role may create, edit, lock and
// delete patients.
func (r Role) CanManagePatients() bool { return r == RoleAdmin || r == RoleCaregiver }

// CanManageTreatments follows the patient permission: treatments belong to
// patients.
func (r Role) CanManageTreatments() bool { return r.CanManagePatients() }

// CanManageCaregivers reports whether the role may manage caregiver records.
func (r Role) CanManageCaregivers() bool { return r == RoleAdmin }

// CanManageAccounts reports whether the role may manage user accounts.
func (r Role) CanManageAccounts() bool { return r == RoleAdmin }

// Account is a login identity.
type Account struct {
	// Username is the unique login name.
	Username string `json:"username"`
	// PasswordHash is the stored password digest. Never serialized.
	PasswordHash string `json:"-"`
	// Role decides what the account may do.
	Role Role `json:"role"`
	// Email is an optional contact address.
	Email string `json:"email,omitempty"`
	// Phone is an optional contact number.
	Phone string `json:"phone,omitempty"`
	// FailedAttempts counts consecutive failed authentications.
	FailedAttempts int `json:"failedAttempts"`
	// LockUntil is set while the account is locked out.
	LockUntil *time.Time `json:"lockUntil,omitempty"`
}

// LockedAt reports whether the account is locked at the given instant.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// SessionStamp identifies the credential sessions are issued against. It
// changes whenever the password hash changes.
func (a *Account) SessionStamp() string {
	sum := sha256.Sum256([]byte(a.Username + "|" + a.PasswordHash))
	return hex.EncodeToString(sum[:8])
}

// ResetCounters clears the failed attempt counter and any lockout.
func (a *Account) ResetCounters() {
	a.FailedAttempts = 0
	a.LockUntil = nil
}

// Session is the authenticated identity handed to operations that need
// authorization.
type Session struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	// Stamp is the account's SessionStamp at issue time.
	Stamp string `json:"-"`
}

// SessionFor builds a session for an authenticated account.
func SessionFor(a *Account) Session {
	return Session{Username: a.Username, Role: a.Role, Stamp: a.SessionStamp()}
}

func (s Session) IsAdmin() bool             { return s.Role.IsAdmin() }
func (s Session) IsCaregiver() bool         { return s.Role.IsCaregiver() }
func (s Session) CanManagePatients() bool   { return s.Role.CanManagePatients() }
func (s Session) CanManageTreatments() bool { return s.Role.CanManageTreatments() }
func (s Session) CanManageCaregivers() bool { return s.Role.CanManageCaregivers() }
func (s Session) CanManageAccounts() bool   { return s.Role.CanManageAccounts() }

// LoginOutcome is the result recorded for a login attempt.
type LoginOutcome string

const (
	LoginSuccess LoginOutcome = "SUCCESS"
	LoginFailed  LoginOutcome = "FAILED"
)

// LoginAttempt is an append-only audit entry for one authentication call.
type LoginAttempt struct {
	Timestamp time.Time    `json:"timestamp"`
	Username  string       `json:"username"`
	Origin    string       `json:"origin"`
	Outcome   LoginOutcome `json:"outcome"`
	// Reason is empty for successful attempts.
	Reason string `json:"reason,omitempty"`
}
