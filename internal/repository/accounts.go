package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
)

// AccountRepository stores login accounts and their lockout counters.
type AccountRepository struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	dialect Dialect
}

// NewAccountRepository creates an AccountRepository over db.
func NewAccountRepository(db *sql.DB, dialect Dialect) *AccountRepository {
	return &AccountRepository{DB: db, dialect: dialect}
}

const accountColumns = `username, password_hash, role, email, phone, failed_attempts, lock_until`

// Create inserts a new account. A taken username yields ErrAlreadyExists.
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	_, err := r.DB.ExecContext(ctx, r.dialect.Rebind(
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.Username, a.PasswordHash, string(a.Role), a.Email, a.Phone, a.FailedAttempts, lockUntilValue(a.LockUntil),
	)
	if err != nil {
		return storageErr("create account", err)
	}
	return nil
}

// GetByUsername loads one account. A missing account yields ErrNotFound.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	row := r.DB.QueryRowContext(ctx, r.dialect.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`), username)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get account", err)
	}
	return a, nil
}

// Update writes every mutable column of the account, counters included.
func (r *AccountRepository) Update(ctx context.Context, a *models.Account) error {
	res, err := r.DB.ExecContext(ctx, r.dialect.Rebind(`
		UPDATE accounts
		   SET password_hash = ?, role = ?, email = ?, phone = ?, failed_attempts = ?, lock_until = ?
		 WHERE username = ?`),
		a.PasswordHash, string(a.Role), a.Email, a.Phone, a.FailedAttempts, lockUntilValue(a.LockUntil), a.Username,
	)
	if err != nil {
		return storageErr("update account", err)
	}
	return expectOneRow("update account", res)
}

// List returns all accounts ordered by username.
func (r *AccountRepository) List(ctx context.Context) ([]models.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("scan account", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list accounts", err)
	}
	return accounts, nil
}

// Delete removes an account by username.
func (r *AccountRepository) Delete(ctx context.Context, username string) error {
	res, err := r.DB.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM accounts WHERE username = ?`), username)
	if err != nil {
		return storageErr("delete account", err)
	}
	return expectOneRow("delete account", res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(s rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		role      string
		lockUntil sql.NullInt64
	)
	if err := s.Scan(&a.Username, &a.PasswordHash, &role, &a.Email, &a.Phone, &a.FailedAttempts, &lockUntil); err != nil {
		return nil, err
	}
	a.Role = models.ParseRole(role)
	if lockUntil.Valid {
		t := time.Unix(lockUntil.Int64, 0).UTC()
		a.LockUntil = &t
	}
	return &a, nil
}

func lockUntilValue(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func expectOneRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
