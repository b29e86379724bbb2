package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/CareKeeper/internal/metrics"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActor is recorded for transitions made by the retention sweep.
const SystemActor = "system"

// DefaultRetentionYears is the legal retention period for clinical records.
const DefaultRetentionYears = 10

// RecordStore is the per-entity persistence the lifecycle manager needs.
type RecordStore[R models.Record] interface {
	// Read returns repository.ErrNotFound for unknown ids.
	Read(ctx context.Context, id string) (R, error)
	ReadAll(ctx context.Context) ([]R, error)
	Create(ctx context.Context, rec R) error
	Update(ctx context.Context, rec R) error
}

// StatusChangeLog receives one entry per applied transition.
type StatusChangeLog interface {
	Append(ctx context.Context, c models.StatusChange) error
}

// RejectReason explains why a lock or delete was not applied.
type RejectReason string

const (
	RejectNotFound        RejectReason = "not found"
	RejectLocked          RejectReason = "locked"
	RejectDeleted         RejectReason = "already deleted"
	RejectRetentionActive RejectReason = "retention period not reached"
)

// Outcome is the typed result of Lock and Delete.
type Outcome struct {
	Applied bool
	Reason  RejectReason
}

type lifecycleConfig struct {
	clock          Clock
	log            *zap.Logger
	metrics        *metrics.Metrics
	retentionYears int
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*lifecycleConfig)

// WithLifecycleClock replaces the wall clock.
func WithLifecycleClock(c Clock) LifecycleOption {
	return func(cfg *lifecycleConfig) { cfg.clock = c }
}

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(l *zap.Logger) LifecycleOption {
	return func(cfg *lifecycleConfig) { cfg.log = l }
}

// WithLifecycleMetrics enables metric collection.
func WithLifecycleMetrics(m *metrics.Metrics) LifecycleOption {
	return func(cfg *lifecycleConfig) { cfg.metrics = m }
}

// WithRetentionYears overrides DefaultRetentionYears.
func WithRetentionYears(years int) LifecycleOption {
	return func(cfg *lifecycleConfig) { cfg.retentionYears = years }
}

// Lifecycle drives records of one type through ACTIVE, LOCKED and DELETED.
// Mutations of the same record are serialized.
type Lifecycle[R models.Record] struct {
	kind      models.Kind
	store     RecordStore[R]
	statusLog StatusChangeLog
	cfg       lifecycleConfig
	locks     *keyMutex
}

// NewLifecycle creates the manager for kind. statusLog may be nil.
func NewLifecycle[R models.Record](kind models.Kind, store RecordStore[R], statusLog StatusChangeLog, opts ...LifecycleOption) *Lifecycle[R] {
	cfg := lifecycleConfig{
		clock:          SystemClock{},
		log:            zap.NewNop(),
		retentionYears: DefaultRetentionYears,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Lifecycle[R]{
		kind:      kind,
		store:     store,
		statusLog: statusLog,
		cfg:       cfg,
		locks:     newKeyMutex(),
	}
}

// Kind returns the entity type managed.
func (l *Lifecycle[R]) Kind() models.Kind { return l.kind }

// RetentionYears returns the configured retention period.
func (l *Lifecycle[R]) RetentionYears() int { return l.cfg.retentionYears }

func (l *Lifecycle[R]) today() time.Time { return models.Date(l.cfg.clock.Now()) }

func (l *Lifecycle[R]) cutoff(years int) time.Time { return l.today().AddDate(-years, 0, 0) }

// Lock moves an ACTIVE record to LOCKED.
func (l *Lifecycle[R]) Lock(ctx context.Context, id, actor string) (Outcome, error) {
	return l.transition(ctx, "lock", id, actor, func(rec R) RejectReason {
		switch rec.CurrentStatus() {
		case models.StatusActive:
			return ""
		case models.StatusDeleted:
			return RejectDeleted
		default:
			return RejectLocked
		}
	}, models.StatusLocked)
}

// Delete marks an ACTIVE record DELETED once its age reference date is at
// least the retention period in the past. Rows are never removed.
func (l *Lifecycle[R]) Delete(ctx context.Context, id, actor string) (Outcome, error) {
	cutoff := l.cutoff(l.cfg.retentionYears)
	return l.transition(ctx, "delete", id, actor, func(rec R) RejectReason {
		switch rec.CurrentStatus() {
		case models.StatusLocked:
			return RejectLocked
		case models.StatusDeleted:
			return RejectDeleted
		}
		ref := rec.AgeReferenceDate()
		if ref.IsZero() || ref.After(cutoff) {
			return RejectRetentionActive
		}
		return ""
	}, models.StatusDeleted)
}

func (l *Lifecycle[R]) transition(ctx context.Context, op, id, actor string, check func(R) RejectReason, to models.Status) (Outcome, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	rec, err := l.store.Read(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return l.reject(op, id, RejectNotFound), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%s %s %s: %w", op, l.kind, id, err)
	}
	if reason := check(rec); reason != "" {
		return l.reject(op, id, reason), nil
	}

	from := rec.CurrentStatus()
	now := l.cfg.clock.Now()
	rec.SetStatus(to, now)
	if err := l.store.Update(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("%s %s %s: %w", op, l.kind, id, err)
	}

	l.LogStatusChange(ctx, id, from, to, now, actor)
	l.cfg.metrics.Transition(string(l.kind), string(to))
	l.cfg.log.Info("record status changed",
		zap.String("entity", string(l.kind)),
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
	)
	return Outcome{Applied: true}, nil
}

func (l *Lifecycle[R]) reject(op, id string, reason RejectReason) Outcome {
	l.cfg.metrics.Rejection(string(l.kind), op, string(reason))
	l.cfg.log.Warn("record "+op+" refused",
		zap.String("entity", string(l.kind)),
		zap.String("id", id),
		zap.String("reason", string(reason)),
	)
	return Outcome{Reason: reason}
}

// LogStatusChange appends an audit entry. Failures are logged and dropped.
func (l *Lifecycle[R]) LogStatusChange(ctx context.Context, id string, from, to models.Status, at time.Time, actor string) {
	if l.statusLog == nil {
		return
	}
	err := l.statusLog.Append(ctx, models.StatusChange{
		Kind:      l.kind,
		RecordID:  id,
		OldStatus: from,
		NewStatus: to,
		Actor:     actor,
		ChangedAt: at,
	})
	if err != nil {
		l.cfg.log.Error("append status change",
			zap.String("entity", string(l.kind)),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// FindOlderThan returns every record whose age reference date precedes
// today minus years, regardless of status.
func (l *Lifecycle[R]) FindOlderThan(ctx context.Context, years int) ([]R, error) {
	if years < 0 {
		return nil, ErrNegativeAge
	}
	cutoff := l.cutoff(years)
	return l.filter(ctx, func(rec R) bool {
		ref := rec.AgeReferenceDate()
		return !ref.IsZero() && ref.Before(cutoff)
	})
}

// FindByStatus returns every record in status.
func (l *Lifecycle[R]) FindByStatus(ctx context.Context, status models.Status) ([]R, error) {
	return l.filter(ctx, func(rec R) bool { return rec.CurrentStatus() == status })
}

func (l *Lifecycle[R]) filter(ctx context.Context, keep func(R) bool) ([]R, error) {
	all, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s records: %w", l.kind, err)
	}
	out := make([]R, 0, len(all))
	for _, rec := range all {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Sweep locks every ACTIVE record past the retention period and returns
// how many it locked. It never deletes and is safe to repeat.
func (l *Lifecycle[R]) Sweep(ctx context.Context) (int, error) {
	due, err := l.FindOlderThan(ctx, l.cfg.retentionYears)
	if err != nil {
		l.cfg.metrics.Sweep(string(l.kind), 0, err)
		return 0, err
	}

	var (
		locked int
		errs   []error
	)
	for _, rec := range due {
		if rec.CurrentStatus() != models.StatusActive {
			continue
		}
		out, err := l.Lock(ctx, rec.RecordID(), SystemActor)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.Applied {
			locked++
		}
	}
	err = errors.Join(errs...)
	l.cfg.metrics.Sweep(string(l.kind), locked, err)
	return locked, err
}

// Create stores a new ACTIVE record stamped today under a fresh id.
func (l *Lifecycle[R]) Create(ctx context.Context, rec R, actor string) (R, error) {
	var zero R
	if err := validate.StructCtx(ctx, rec); err != nil {
		return zero, validationError(ErrInvalidRecord, err)
	}
	rec.SetRecordID(uuid.NewString())
	rec.SetStatus(models.StatusActive, l.cfg.clock.Now())
	if rec.AgeReferenceDate().IsZero() {
		return zero, fmt.Errorf("%w: missing %s date", ErrInvalidRecord, l.kind)
	}
	if err := l.store.Create(ctx, rec); err != nil {
		return zero, fmt.Errorf("create %s: %w", l.kind, err)
	}
	l.cfg.log.Info("record created",
		zap.String("entity", string(l.kind)),
		zap.String("id", rec.RecordID()),
		zap.String("actor", actor),
	)
	return rec, nil
}

// Edit replaces the payload of an existing record. Status and status date
// are kept from storage; DELETED records cannot be edited.
func (l *Lifecycle[R]) Edit(ctx context.Context, rec R, actor string) (R, error) {
	var zero R
	if err := validate.StructCtx(ctx, rec); err != nil {
		return zero, validationError(ErrInvalidRecord, err)
	}

	id := rec.RecordID()
	unlock := l.locks.Lock(id)
	defer unlock()

	current, err := l.store.Read(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("read %s %s: %w", l.kind, id, err)
	}
	if current.CurrentStatus() == models.StatusDeleted {
		return zero, ErrRecordDeleted
	}
	rec.SetStatus(current.CurrentStatus(), current.StatusChangedOn())
	if rec.AgeReferenceDate().IsZero() {
		return zero, fmt.Errorf("%w: missing %s date", ErrInvalidRecord, l.kind)
	}
	if err := l.store.Update(ctx, rec); err != nil {
		return zero, fmt.Errorf("update %s %s: %w", l.kind, id, err)
	}
	l.cfg.log.Info("record edited",
		zap.String("entity", string(l.kind)),
		zap.String("id", id),
		zap.String("actor", actor),
	)
	return rec, nil
}

// Get loads one record.
func (l *Lifecycle[R]) Get(ctx context.Context, id string) (R, error) {
	return l.store.Read(ctx, id)
}

// List returns the records that are not DELETED.
func (l *Lifecycle[R]) List(ctx context.Context) ([]R, error) {
	return l.filter(ctx, func(rec R) bool { return rec.CurrentStatus() != models.StatusDeleted })
}
