package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/google/uuid"
)

// StatusLog is the append-only status-change audit table.
type StatusLog struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	dialect Dialect
}

// NewStatusLog creates a StatusLog over db.
func NewStatusLog(db *sql.DB, dialect Dialect) *StatusLog {
	return &StatusLog{DB: db, dialect: dialect}
}

// Append writes one entry. An empty ID is replaced by a time-ordered UUID.
func (l *StatusLog) Append(ctx context.Context, c models.StatusChange) error {
	if c.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return storageErr("status change id", err)
		}
		c.ID = id.String()
	}
	_, err := l.DB.ExecContext(ctx, l.dialect.Rebind(`
		INSERT INTO status_changes (id, entity, record_id, old_status, new_status, actor, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		c.ID, string(c.Kind), c.RecordID, string(c.OldStatus), string(c.NewStatus), c.Actor, c.ChangedAt.Unix(),
	)
	if err != nil {
		return storageErr("append status change", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (l *StatusLog) Recent(ctx context.Context, n int) ([]models.StatusChange, error) {
	rows, err := l.DB.QueryContext(ctx, l.dialect.Rebind(`
		SELECT id, entity, record_id, old_status, new_status, actor, changed_at
		  FROM status_changes
		 ORDER BY changed_at DESC, id DESC
		 LIMIT ?`), n)
	if err != nil {
		return nil, storageErr("recent status changes", err)
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		var (
			c                        models.StatusChange
			kind, oldStatus, newStat string
			changedAt                int64
		)
		if err := rows.Scan(&c.ID, &kind, &c.RecordID, &oldStatus, &newStat, &c.Actor, &changedAt); err != nil {
			return nil, storageErr("scan status change", err)
		}
		c.Kind = models.Kind(kind)
		c.OldStatus = models.Status(oldStatus)
		c.NewStatus = models.Status(newStat)
		c.ChangedAt = time.Unix(changedAt, 0).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent status changes", err)
	}
	return out, nil
}
