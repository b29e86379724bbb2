package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
)

const dateLayout = "2006-01-02"

// table describes how one record type maps onto its SQL table. Columns are
// the payload columns only; id, status and status_change_date are handled
// by RecordRepository.
type table[R models.Record] struct {
	name    string
	columns []string
	values  func(R) []any
	scan    func(s rowScanner) (R, error)
}

// RecordRepository stores one record type. The same implementation serves
// patients, caregivers and treatments.
type RecordRepository[R models.Record] struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	dialect Dialect
	table   table[R]

	selectSQL string
	insertSQL string
	updateSQL string
}

func newRecordRepository[R models.Record](db *sql.DB, dialect Dialect, t table[R]) *RecordRepository[R] {
	cols := append([]string{"id"}, t.columns...)
	cols = append(cols, "status", "status_change_date")

	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = ?")
	}

	return &RecordRepository[R]{
		DB:        db,
		dialect:   dialect,
		table:     t,
		selectSQL: fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), t.name),
		insertSQL: dialect.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			t.name, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))),
		updateSQL: dialect.Rebind(fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, t.name, strings.Join(sets, ", "))),
	}
}

// NewPatientRepository creates the patients store.
func NewPatientRepository(db *sql.DB, dialect Dialect) *RecordRepository[*models.Patient] {
	return newRecordRepository(db, dialect, table[*models.Patient]{
		name:    "patients",
		columns: []string{"first_name", "surname", "date_of_birth", "care_level", "room_number"},
		values: func(p *models.Patient) []any {
			return []any{p.FirstName, p.Surname, formatDate(p.DateOfBirth), p.CareLevel, p.RoomNumber}
		},
		scan: func(s rowScanner) (*models.Patient, error) {
			var (
				p                     models.Patient
				dob, status, changeOn string
			)
			if err := s.Scan(&p.ID, &p.FirstName, &p.Surname, &dob, &p.CareLevel, &p.RoomNumber, &status, &changeOn); err != nil {
				return nil, err
			}
			var err error
			if p.DateOfBirth, err = parseDate(dob); err != nil {
				return nil, err
			}
			return &p, setLifecycle(&p.Lifecycle, status, changeOn)
		},
	})
}

// NewCaregiverRepository creates the caregivers store.
func NewCaregiverRepository(db *sql.DB, dialect Dialect) *RecordRepository[*models.Caregiver] {
	return newRecordRepository(db, dialect, table[*models.Caregiver]{
		name:    "caregivers",
		columns: []string{"first_name", "surname", "phone_number"},
		values: func(c *models.Caregiver) []any {
			return []any{c.FirstName, c.Surname, c.PhoneNumber}
		},
		scan: func(s rowScanner) (*models.Caregiver, error) {
			var (
				c                models.Caregiver
				status, changeOn string
			)
			if err := s.Scan(&c.ID, &c.FirstName, &c.Surname, &c.PhoneNumber, &status, &changeOn); err != nil {
				return nil, err
			}
			return &c, setLifecycle(&c.Lifecycle, status, changeOn)
		},
	})
}

// NewTreatmentRepository creates the treatments store.
func NewTreatmentRepository(db *sql.DB, dialect Dialect) *RecordRepository[*models.Treatment] {
	return newRecordRepository(db, dialect, table[*models.Treatment]{
		name: "treatments",
		columns: []string{"patient_id", "caregiver_id", "treatment_date", "begin_time", "end_time",
			"description", "remarks"},
		values: func(t *models.Treatment) []any {
			return []any{t.PatientID, t.CaregiverID, formatDate(t.TreatmentDate), t.Begin, t.End,
				t.Description, t.Remarks}
		},
		scan: func(s rowScanner) (*models.Treatment, error) {
			var (
				t                    models.Treatment
				on, status, changeOn string
			)
			if err := s.Scan(&t.ID, &t.PatientID, &t.CaregiverID, &on, &t.Begin, &t.End,
				&t.Description, &t.Remarks, &status, &changeOn); err != nil {
				return nil, err
			}
			var err error
			if t.TreatmentDate, err = parseDate(on); err != nil {
				return nil, err
			}
			return &t, setLifecycle(&t.Lifecycle, status, changeOn)
		},
	})
}

// Read loads a record by id. A missing record yields ErrNotFound.
func (r *RecordRepository[R]) Read(ctx context.Context, id string) (R, error) {
	var zero R
	row := r.DB.QueryRowContext(ctx, r.dialect.Rebind(r.selectSQL+` WHERE id = ?`), id)
	rec, err := r.table.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, storageErr("read "+r.table.name, err)
	}
	return rec, nil
}

// ReadAll loads every record of the type, deleted ones included.
func (r *RecordRepository[R]) ReadAll(ctx context.Context) ([]R, error) {
	rows, err := r.DB.QueryContext(ctx, r.selectSQL+` ORDER BY id`)
	if err != nil {
		return nil, storageErr("read all "+r.table.name, err)
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		rec, err := r.table.scan(rows)
		if err != nil {
			return nil, storageErr("scan "+r.table.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read all "+r.table.name, err)
	}
	return out, nil
}

// Create inserts a new record. The caller assigns the id.
func (r *RecordRepository[R]) Create(ctx context.Context, rec R) error {
	args := append([]any{rec.RecordID()}, r.table.values(rec)...)
	args = append(args, string(rec.CurrentStatus()), formatDate(rec.StatusChangedOn()))
	if _, err := r.DB.ExecContext(ctx, r.insertSQL, args...); err != nil {
		return storageErr("create "+r.table.name, err)
	}
	return nil
}

// Update writes the payload and lifecycle columns of an existing record.
func (r *RecordRepository[R]) Update(ctx context.Context, rec R) error {
	args := r.table.values(rec)
	args = append(args, string(rec.CurrentStatus()), formatDate(rec.StatusChangedOn()), rec.RecordID())
	res, err := r.DB.ExecContext(ctx, r.updateSQL, args...)
	if err != nil {
		return storageErr("update "+r.table.name, err)
	}
	return expectOneRow("update "+r.table.name, res)
}

// DeleteByID removes a record row. Lifecycle deletion does not call this;
// it only marks records DELETED.
func (r *RecordRepository[R]) DeleteByID(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM `+r.table.name+` WHERE id = ?`), id)
	if err != nil {
		return storageErr("delete "+r.table.name, err)
	}
	return expectOneRow("delete "+r.table.name, res)
}

func setLifecycle(l *models.Lifecycle, status, changedOn string) error {
	on, err := parseDate(changedOn)
	if err != nil {
		return err
	}
	l.Status = models.Status(status)
	l.StatusChangeDate = on
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
