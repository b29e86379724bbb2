package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/CareKeeper/internal/db"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// now is 2026-10-16; the ten-year cutoff is 2016-10-16.
var lifecycleNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func treatment(id string, on time.Time, status models.Status) *models.Treatment {
	return &models.Treatment{
		ID:            id,
		PatientID:     "p1",
		TreatmentDate: on,
		Description:   "wound dressing",
		Lifecycle:     models.Lifecycle{Status: status, StatusChangeDate: day(2020, 1, 1)},
	}
}

func newTreatmentLifecycle(t *testing.T, recs ...*models.Treatment) (*Lifecycle[*models.Treatment], *memStore[*models.Treatment], *mockStatusLog) {
	t.Helper()
	store := newMemStore(cloneTreatment, recs...)
	log := &mockStatusLog{}
	lc := NewLifecycle[*models.Treatment](models.KindTreatment, store, log,
		WithLifecycleClock(ClockFunc(func() time.Time { return lifecycleNow })))
	return lc, store, log
}

func TestLock_ActiveRecord(t *testing.T) {
	lc, store, log := newTreatmentLifecycle(t, treatment("t1", day(2025, 3, 1), models.StatusActive))

	out, err := lc.Lock(context.Background(), "t1", "nurse")
	require.NoError(t, err)
	require.True(t, out.Applied)

	stored := store.get("t1")
	require.Equal(t, models.StatusLocked, stored.Status)
	require.Equal(t, day(2026, 10, 16), stored.StatusChangeDate)

	entries := log.all()
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusActive, entries[0].OldStatus)
	require.Equal(t, models.StatusLocked, entries[0].NewStatus)
	require.Equal(t, models.KindTreatment, entries[0].Kind)
	require.Equal(t, "t1", entries[0].RecordID)
	require.Equal(t, "nurse", entries[0].Actor)
	require.Equal(t, lifecycleNow, entries[0].ChangedAt)
}

func TestLock_RepeatIsRefused(t *testing.T) {
	lc, store, log := newTreatmentLifecycle(t, treatment("t1", day(2025, 3, 1), models.StatusActive))
	ctx := context.Background()

	_, err := lc.Lock(ctx, "t1", "nurse")
	require.NoError(t, err)

	out, err := lc.Lock(ctx, "t1", "nurse")
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Equal(t, RejectLocked, out.Reason)
	require.Equal(t, models.StatusLocked, store.get("t1").Status)
	require.Len(t, log.all(), 1)
}

func TestLock_Refusals(t *testing.T) {
	lc, store, _ := newTreatmentLifecycle(t, treatment("gone", day(2001, 1, 1), models.StatusDeleted))

	cases := []struct {
		id   string
		want RejectReason
	}{
		{"missing", RejectNotFound},
		{"gone", RejectDeleted},
	}
	for _, tc := range cases {
		out, err := lc.Lock(context.Background(), tc.id, "nurse")
		require.NoError(t, err)
		require.False(t, out.Applied)
		require.Equal(t, tc.want, out.Reason)
	}
	require.Zero(t, store.updates)
}

func TestDelete_RetentionBoundary(t *testing.T) {
	cases := []struct {
		name string
		on   time.Time
		want bool
	}{
		{"ten years minus one day", day(2016, 10, 17), false},
		{"exactly ten years", day(2016, 10, 16), true},
		{"ten years plus one day", day(2016, 10, 15), true},
		{"last week", day(2026, 10, 9), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lc, store, log := newTreatmentLifecycle(t, treatment("t1", tc.on, models.StatusActive))

			out, err := lc.Delete(context.Background(), "t1", "admin")
			require.NoError(t, err)
			require.Equal(t, tc.want, out.Applied)
			if tc.want {
				require.Equal(t, models.StatusDeleted, store.get("t1").Status)
				require.Len(t, log.all(), 1)
			} else {
				require.Equal(t, RejectRetentionActive, out.Reason)
				require.Equal(t, models.StatusActive, store.get("t1").Status)
				require.Empty(t, log.all())
			}
		})
	}
}

func TestDelete_LockedCaregiverAlwaysRefused(t *testing.T) {
	cg := &models.Caregiver{ID: "c1", FirstName: "Ann", Surname: "Lee",
		Lifecycle: models.Lifecycle{Status: models.StatusLocked, StatusChangeDate: day(1990, 1, 1)}}
	store := newMemStore(cloneCaregiver, cg)
	lc := NewLifecycle[*models.Caregiver](models.KindCaregiver, store, nil,
		WithLifecycleClock(ClockFunc(func() time.Time { return lifecycleNow })))

	for _, years := range []int{0, 10, 50} {
		lc.cfg.retentionYears = years
		out, err := lc.Delete(context.Background(), "c1", "admin")
		require.NoError(t, err)
		require.False(t, out.Applied)
		require.Equal(t, RejectLocked, out.Reason)
	}
	require.Equal(t, models.StatusLocked, store.get("c1").Status)
}

func TestDelete_Terminal(t *testing.T) {
	lc, _, _ := newTreatmentLifecycle(t, treatment("t1", day(2000, 1, 1), models.StatusActive))
	ctx := context.Background()

	out, err := lc.Delete(ctx, "t1", "admin")
	require.NoError(t, err)
	require.True(t, out.Applied)

	out, err = lc.Delete(ctx, "t1", "admin")
	require.NoError(t, err)
	require.Equal(t, RejectDeleted, out.Reason)

	out, err = lc.Lock(ctx, "t1", "admin")
	require.NoError(t, err)
	require.Equal(t, RejectDeleted, out.Reason)
}

func TestDelete_PatientUsesBirthDate(t *testing.T) {
	young := &models.Patient{ID: "young", FirstName: "A", Surname: "B", DateOfBirth: day(2020, 5, 1),
		Lifecycle: models.Lifecycle{Status: models.StatusActive, StatusChangeDate: day(2000, 1, 1)}}
	old := &models.Patient{ID: "old", FirstName: "C", Surname: "D", DateOfBirth: day(1940, 5, 1),
		Lifecycle: models.Lifecycle{Status: models.StatusActive, StatusChangeDate: day(2026, 10, 1)}}
	store := newMemStore(clonePatient, young, old)
	lc := NewLifecycle[*models.Patient](models.KindPatient, store, nil,
		WithLifecycleClock(ClockFunc(func() time.Time { return lifecycleNow })))

	out, err := lc.Delete(context.Background(), "young", "admin")
	require.NoError(t, err)
	require.False(t, out.Applied)

	out, err = lc.Delete(context.Background(), "old", "admin")
	require.NoError(t, err)
	require.True(t, out.Applied)
}

func TestTransition_StorageFault(t *testing.T) {
	lc, store, log := newTreatmentLifecycle(t, treatment("t1", day(2000, 1, 1), models.StatusActive))
	store.UpdateErr = errStorage

	_, err := lc.Lock(context.Background(), "t1", "nurse")
	require.ErrorIs(t, err, errStorage)
	require.True(t, repository.IsStorageError(err))
	require.Equal(t, models.StatusActive, store.get("t1").Status)
	require.Empty(t, log.all())

	store.UpdateErr = nil
	store.ReadErr = errStorage
	_, err = lc.Delete(context.Background(), "t1", "nurse")
	require.ErrorIs(t, err, errStorage)
}

func TestTransition_AuditFailureIsSwallowed(t *testing.T) {
	lc, store, log := newTreatmentLifecycle(t, treatment("t1", day(2025, 1, 1), models.StatusActive))
	log.Err = errors.New("audit table missing")

	out, err := lc.Lock(context.Background(), "t1", "nurse")
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Equal(t, models.StatusLocked, store.get("t1").Status)
}

func TestFindOlderThan(t *testing.T) {
	lc, _, _ := newTreatmentLifecycle(t,
		treatment("a", day(2016, 10, 15), models.StatusActive),
		treatment("b", day(2016, 10, 16), models.StatusActive),
		treatment("c", day(2001, 1, 1), models.StatusLocked),
		treatment("d", day(1999, 1, 1), models.StatusDeleted),
		treatment("e", day(2025, 1, 1), models.StatusActive),
	)
	ctx := context.Background()

	got, err := lc.FindOlderThan(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "d"}, ids(got))

	got, err = lc.FindOlderThan(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)

	_, err = lc.FindOlderThan(ctx, -1)
	require.ErrorIs(t, err, ErrNegativeAge)
}

func TestFindByStatus(t *testing.T) {
	lc, _, _ := newTreatmentLifecycle(t,
		treatment("a", day(2020, 1, 1), models.StatusActive),
		treatment("b", day(2020, 1, 1), models.StatusLocked),
		treatment("c", day(2020, 1, 1), models.StatusLocked),
	)
	got, err := lc.FindByStatus(context.Background(), models.StatusLocked)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, ids(got))
}

func TestSweep_LocksExpiredActiveRecords(t *testing.T) {
	lc, store, log := newTreatmentLifecycle(t,
		treatment("old", day(2010, 1, 1), models.StatusActive),
		treatment("held", day(2010, 1, 1), models.StatusLocked),
		treatment("gone", day(2010, 1, 1), models.StatusDeleted),
		treatment("boundary", day(2016, 10, 16), models.StatusActive),
		treatment("fresh", day(2024, 1, 1), models.StatusActive),
	)
	ctx := context.Background()

	n, err := lc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, models.StatusLocked, store.get("old").Status)
	require.Equal(t, models.StatusDeleted, store.get("gone").Status)
	require.Equal(t, models.StatusActive, store.get("boundary").Status)
	require.Equal(t, models.StatusActive, store.get("fresh").Status)

	entries := log.all()
	require.Len(t, entries, 1)
	require.Equal(t, SystemActor, entries[0].Actor)

	// Idempotent.
	n, err = lc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, log.all(), 1)
}

func TestSweep_JoinsErrors(t *testing.T) {
	lc, store, _ := newTreatmentLifecycle(t,
		treatment("a", day(2001, 1, 1), models.StatusActive),
		treatment("b", day(2002, 1, 1), models.StatusActive),
	)
	store.UpdateErr = errStorage

	n, err := lc.Sweep(context.Background())
	require.Zero(t, n)
	require.ErrorIs(t, err, errStorage)
}

func TestCreate(t *testing.T) {
	lc, store, _ := newTreatmentLifecycle(t)

	rec, err := lc.Create(context.Background(), &models.Treatment{
		PatientID: "p1", TreatmentDate: day(2026, 10, 1), Description: "blood pressure",
	}, "nurse")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, models.StatusActive, rec.Status)
	require.Equal(t, day(2026, 10, 16), rec.StatusChangeDate)
	require.Equal(t, "blood pressure", store.get(rec.ID).Description)

	_, err = lc.Create(context.Background(), &models.Treatment{PatientID: "p1", Description: "no date"}, "nurse")
	require.ErrorIs(t, err, ErrInvalidRecord)

	_, err = lc.Create(context.Background(), &models.Treatment{TreatmentDate: day(2026, 1, 1)}, "nurse")
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestCreate_CaregiverAgeFromStatusDate(t *testing.T) {
	store := newMemStore(cloneCaregiver)
	lc := NewLifecycle[*models.Caregiver](models.KindCaregiver, store, nil,
		WithLifecycleClock(ClockFunc(func() time.Time { return lifecycleNow })))

	cg, err := lc.Create(context.Background(), &models.Caregiver{FirstName: "Ann", Surname: "Lee"}, "admin")
	require.NoError(t, err)
	require.Equal(t, day(2026, 10, 16), cg.AgeReferenceDate())
}

func TestEdit(t *testing.T) {
	orig := treatment("t1", day(2025, 1, 1), models.StatusLocked)
	lc, store, _ := newTreatmentLifecycle(t, orig, treatment("t2", day(2000, 1, 1), models.StatusDeleted))
	ctx := context.Background()

	edit := treatment("t1", day(2025, 1, 2), models.StatusActive)
	edit.Remarks = "patient asleep"
	edit.StatusChangeDate = day(2026, 1, 1)

	got, err := lc.Edit(ctx, edit, "nurse")
	require.NoError(t, err)
	require.Equal(t, models.StatusLocked, got.Status)

	stored := store.get("t1")
	require.Equal(t, "patient asleep", stored.Remarks)
	require.Equal(t, day(2025, 1, 2), stored.TreatmentDate)
	require.Equal(t, models.StatusLocked, stored.Status)
	require.Equal(t, day(2020, 1, 1), stored.StatusChangeDate)

	_, err = lc.Edit(ctx, treatment("t2", day(2000, 1, 1), models.StatusActive), "nurse")
	require.ErrorIs(t, err, ErrRecordDeleted)

	_, err = lc.Edit(ctx, treatment("nope", day(2000, 1, 1), models.StatusActive), "nurse")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestList_HidesDeleted(t *testing.T) {
	lc, _, _ := newTreatmentLifecycle(t,
		treatment("a", day(2020, 1, 1), models.StatusActive),
		treatment("b", day(2020, 1, 1), models.StatusDeleted),
		treatment("c", day(2020, 1, 1), models.StatusLocked),
	)
	got, err := lc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids(got))

	rec, err := lc.Get(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, models.StatusDeleted, rec.Status)
}

func TestLifecycle_SQLiteIntegration(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	statusLog := repository.NewStatusLog(conn, repository.DialectSQLite)
	lc := NewLifecycle[*models.Patient](models.KindPatient,
		repository.NewPatientRepository(conn, repository.DialectSQLite), statusLog,
		WithLifecycleClock(ClockFunc(func() time.Time { return lifecycleNow })))

	p, err := lc.Create(ctx, &models.Patient{FirstName: "Erna", Surname: "Berg", DateOfBirth: day(1931, 2, 3), CareLevel: "3"}, "nurse")
	require.NoError(t, err)

	n, err := lc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := lc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusLocked, got.Status)

	out, err := lc.Delete(ctx, p.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, RejectLocked, out.Reason)

	changes, err := statusLog.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, SystemActor, changes[0].Actor)
	require.Equal(t, p.ID, changes[0].RecordID)
}

func ids[R models.Record](recs []R) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.RecordID())
	}
	return out
}
