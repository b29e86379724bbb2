package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/CareKeeper/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// LoginHistory reads back login attempts, newest first.
type LoginHistory interface {
	Recent(n int) ([]models.LoginAttempt, error)
}

// StatusHistory reads back status changes, newest first.
type StatusHistory interface {
	Recent(ctx context.Context, n int) ([]models.StatusChange, error)
}

// AuditTrail gives administrators read access to both audit logs.
type AuditTrail struct {
	logins  LoginHistory
	changes StatusHistory
}

// NewAuditTrail creates an AuditTrail.
func NewAuditTrail(logins LoginHistory, changes StatusHistory) *AuditTrail {
	return &AuditTrail{logins: logins, changes: changes}
}

// RecentLogins returns up to n login attempts.
func (a *AuditTrail) RecentLogins(session models.Session, n int) ([]models.LoginAttempt, error) {
	if !session.IsAdmin() {
		return nil, ErrForbidden
	}
	out, err := a.logins.Recent(clampLimit(n))
	if err != nil {
		return nil, fmt.Errorf("read login attempts: %w", err)
	}
	return out, nil
}

// RecentStatusChanges returns up to n status changes.
func (a *AuditTrail) RecentStatusChanges(ctx context.Context, session models.Session, n int) ([]models.StatusChange, error) {
	if !session.IsAdmin() {
		return nil, ErrForbidden
	}
	out, err := a.changes.Recent(ctx, clampLimit(n))
	if err != nil {
		return nil, fmt.Errorf("read status changes: %w", err)
	}
	return out, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultAuditLimit
	case n > maxAuditLimit:
		return maxAuditLimit
	default:
		return n
	}
}
