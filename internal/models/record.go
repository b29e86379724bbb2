package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a clinical record.
type Status string

const (
	// StatusActive is the initial state of every record.
	StatusActive Status = "ACTIVE"
	// StatusLocked is a hold that blocks deletion.
	StatusLocked Status = "LOCKED"
	// StatusDeleted is terminal.
	StatusDeleted Status = "DELETED"
)

// ParseStatus decodes a textual status. The second result is false for
// unknown values.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusLocked, StatusDeleted:
		return st, true
	default:
		return "", false
	}
}

// Kind names a record entity type.
type Kind string

const (
	KindPatient   Kind = "patient"
	KindCaregiver Kind = "caregiver"
	KindTreatment Kind = "treatment"
)

// Record is the capability set the lifecycle manager works with.
type Record interface {
	Kind() Kind
	RecordID() string
	SetRecordID(id string)
	CurrentStatus() Status
	// SetStatus writes the status and stamps the status-change date.
	SetStatus(s Status, on time.Time)
	StatusChangedOn() time.Time
	// AgeReferenceDate is the date retention is measured from.
	AgeReferenceDate() time.Time
}

// Lifecycle holds the status fields shared by every record type.
type Lifecycle struct {
	Status           Status    `json:"status"`
	StatusChangeDate time.Time `json:"statusChangeDate"`
}

func (l *Lifecycle) CurrentStatus() Status      { return l.Status }
func (l *Lifecycle) StatusChangedOn() time.Time { return l.StatusChangeDate }

func (l *Lifecycle) SetStatus(s Status, on time.Time) {
	l.Status = s
	l.StatusChangeDate = Date(on)
}

// Date truncates t to its calendar date, expressed as midnight UTC.
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Patient is a resident of the facility.
type Patient struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName" validate:"required,max=100"`
	Surname     string    `json:"surname" validate:"required,max=100"`
	DateOfBirth time.Time `json:"dateOfBirth"`
	CareLevel   string    `json:"careLevel" validate:"max=32"`
	RoomNumber  string    `json:"roomNumber" validate:"max=16"`
	Lifecycle
}

func (p *Patient) Kind() Kind                  { return KindPatient }
func (p *Patient) RecordID() string            { return p.ID }
func (p *Patient) SetRecordID(id string)       { p.ID = id }
func (p *Patient) AgeReferenceDate() time.Time { return Date(p.DateOfBirth) }

// Caregiver is a member of the nursing staff.
type Caregiver struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName" validate:"required,max=100"`
	Surname     string `json:"surname" validate:"required,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"max=32"`
	Lifecycle
}

func (c *Caregiver) Kind() Kind            { return KindCaregiver }
func (c *Caregiver) RecordID() string      { return c.ID }
func (c *Caregiver) SetRecordID(id string) { c.ID = id }

// AgeReferenceDate uses the status-change date: caregivers carry no more
// specific date.
func (c *Caregiver) AgeReferenceDate() time.Time { return c.StatusChangeDate }

// Treatment is a care activity performed for a patient.
type Treatment struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId" validate:"required"`
	CaregiverID   string    `json:"caregiverId"`
	TreatmentDate time.Time `json:"treatmentDate"`
	Begin         string    `json:"begin" validate:"max=5"`
	End           string    `json:"end" validate:"max=5"`
	Description   string    `json:"description" validate:"required,max=500"`
	Remarks       string    `json:"remarks" validate:"max=2000"`
	Lifecycle
}

func (t *Treatment) Kind() Kind                  { return KindTreatment }
func (t *Treatment) RecordID() string            { return t.ID }
func (t *Treatment) SetRecordID(id string)       { t.ID = id }
func (t *Treatment) AgeReferenceDate() time.Time { return Date(t.TreatmentDate) }

// StatusChange is an audit entry for one lifecycle transition.
type StatusChange struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"entity"`
	RecordID  string    `json:"recordId"`
	OldStatus Status    `json:"oldStatus"`
	NewStatus Status    `json:"newStatus"`
	Actor     string    `json:"actor"`
	ChangedAt time.Time `json:"changedAt"`
}
