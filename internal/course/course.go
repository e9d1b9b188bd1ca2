// Package course defines the Course, Intake and Reminder entities and the
// day-based queries every view and engine relies on.
package course

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gmsas95/asit/internal/catalog"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/security"
)

// TakingYear is the year of a multi-year immunotherapy regimen, zero based
type TakingYear int

const (
	FirstYear TakingYear = iota
	SecondYear
	ThirdYear
	FourthYear
	FifthYear
)

var takingYearNames = []string{"first", "second", "third", "fourth", "fifth"}

func (y TakingYear) Valid() bool {
	return y >= FirstYear && y <= FifthYear
}

func (y TakingYear) String() string {
	if !y.Valid() {
		return fmt.Sprintf("TakingYear(%d)", int(y))
	}
	return takingYearNames[y]
}

// ParseTakingYear accepts either a name ("first") or a 1-based ordinal ("1")
func ParseTakingYear(s string) (TakingYear, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range takingYearNames {
		if s == name || s == fmt.Sprint(i+1) {
			return TakingYear(i), nil
		}
	}
	return 0, fmt.Errorf("unknown taking year %q", s)
}

// Intake is one recorded dose. MedicationID is a snapshot taken at creation.
type Intake struct {
	ID           string         `json:"id"`
	Date         time.Time      `json:"date"`
	MedicationID string         `json:"medicationId"`
	PackageID    string         `json:"packageId"`
	Dosage       catalog.Dosage `json:"dosage"`
	Comment      string         `json:"comment,omitempty"`
}

func (i Intake) Validate() error {
	switch {
	case i.Date.IsZero():
		return apperrors.Withf(apperrors.ErrIntakeInvalid, "date is required")
	case i.MedicationID == "":
		return apperrors.Withf(apperrors.ErrIntakeInvalid, "medication id is required")
	case i.PackageID == "":
		return apperrors.Withf(apperrors.ErrIntakeInvalid, "package id is required")
	case !i.Dosage.Valid():
		return apperrors.Withf(apperrors.ErrIntakeInvalid, "dosage %s", i.Dosage)
	}
	if err := security.ValidateComment(i.Comment); err != nil {
		return apperrors.From(apperrors.ErrIntakeInvalid, err)
	}
	return nil
}

// Reminder is a daily time of day. Only the Active reminder of a course is scheduled.
type Reminder struct {
	ID     string `json:"id"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Active bool   `json:"isActive"`
}

func (r Reminder) Validate() error {
	if r.Hour < 0 || r.Hour > 23 {
		return apperrors.Withf(apperrors.ErrReminderInvalid, "hour %d out of range", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return apperrors.Withf(apperrors.ErrReminderInvalid, "minute %d out of range", r.Minute)
	}
	return nil
}

func (r Reminder) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Course is a regimen of one medication between two calendar dates.
// Intakes and reminders are owned by the course and die with it.
type Course struct {
	ID           string     `json:"id"`
	MedicationID string     `json:"medicationId"`
	TakingYear   TakingYear `json:"takingYear"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      time.Time  `json:"endDate"`
	IsCompleted  bool       `json:"isCompleted"`
	IsPaused     bool       `json:"isPaused"`
	Intakes      []Intake   `json:"intakes"`
	Reminders    []Reminder `json:"reminders"`
}

// New returns a course with a fresh id and no intakes or reminders
func New(medicationID string, year TakingYear, start, end time.Time) *Course {
	return &Course{
		ID:           uuid.NewString(),
		MedicationID: medicationID,
		TakingYear:   year,
		StartDate:    start,
		EndDate:      end,
		Intakes:      []Intake{},
		Reminders:    []Reminder{},
	}
}

// NewIntake returns an intake with a fresh id
func NewIntake(date time.Time, medicationID, packageID string, dosage catalog.Dosage, comment string) Intake {
	return Intake{
		ID:           uuid.NewString(),
		Date:         date,
		MedicationID: medicationID,
		PackageID:    packageID,
		Dosage:       dosage,
		Comment:      comment,
	}
}

// NewReminder returns an inactive reminder with a fresh id
func NewReminder(hour, minute int) Reminder {
	return Reminder{ID: uuid.NewString(), Hour: hour, Minute: minute}
}

// Validate checks the course fields that the store relies on. End before start is rejected.
func (c *Course) Validate() error {
	if c.MedicationID == "" {
		return apperrors.Withf(apperrors.ErrCourseInvalid, "medication id is required")
	}
	if !c.TakingYear.Valid() {
		return apperrors.Withf(apperrors.ErrCourseInvalid, "taking year %d out of range", int(c.TakingYear))
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return apperrors.Withf(apperrors.ErrCourseInvalid, "start and end dates are required")
	}
	if compareDays(c.EndDate, c.StartDate, c.StartDate.Location()) < 0 {
		return apperrors.Withf(apperrors.ErrCourseInvalid, "end date %s is before start date %s",
			DayKey(c.EndDate), DayKey(c.StartDate))
	}
	active := 0
	for _, r := range c.Reminders {
		if err := r.Validate(); err != nil {
			return err
		}
		if r.Active {
			active++
		}
	}
	if active > 1 {
		return apperrors.Withf(apperrors.ErrCourseInvalid, "%d active reminders", active)
	}
	for i, in := range c.Intakes {
		if err := in.Validate(); err != nil {
			return err
		}
		for _, other := range c.Intakes[:i] {
			if SameDay(in.Date, other.Date) {
				return apperrors.Withf(apperrors.ErrDuplicateIntake, "%s", DayKey(in.Date))
			}
		}
	}
	return nil
}

// HasIntake reports whether an intake falls on the calendar day of date
func (c *Course) HasIntake(date time.Time) bool {
	_, ok := c.IntakeOn(date)
	return ok
}

// IntakeOn returns the intake logged on the calendar day of date
func (c *Course) IntakeOn(date time.Time) (Intake, bool) {
	for _, in := range c.Intakes {
		if SameDay(in.Date, date) {
			return in, true
		}
	}
	return Intake{}, false
}

// LastIntake returns the most recent intake by date
func (c *Course) LastIntake() (Intake, bool) {
	if len(c.Intakes) == 0 {
		return Intake{}, false
	}
	last := c.Intakes[0]
	for _, in := range c.Intakes[1:] {
		if in.Date.After(last.Date) {
			last = in
		}
	}
	return last, true
}

// IsActiveOn reports whether doses are expected on the calendar day of date
func (c *Course) IsActiveOn(date time.Time) bool {
	if c.IsCompleted || c.IsPaused {
		return false
	}
	loc := date.Location()
	return compareDays(c.StartDate, date, loc) <= 0 && compareDays(date, c.EndDate, loc) <= 0
}

// ActiveReminder returns the reminder flagged active
func (c *Course) ActiveReminder() (Reminder, bool) {
	for _, r := range c.Reminders {
		if r.Active {
			return r, true
		}
	}
	return Reminder{}, false
}

// ShouldNotify reports whether the course's active reminder must stay scheduled at now
func (c *Course) ShouldNotify(now time.Time) bool {
	if c.IsCompleted || c.IsPaused || !c.EndDate.After(now) {
		return false
	}
	_, ok := c.ActiveReminder()
	return ok
}

// QuickIntake builds an intake for date mirroring the package and dosage of the last intake.
// The comment is always empty.
func (c *Course) QuickIntake(date time.Time) (Intake, bool) {
	last, ok := c.LastIntake()
	if !ok {
		return Intake{}, false
	}
	return NewIntake(date, c.MedicationID, last.PackageID, last.Dosage, ""), true
}

// Intake returns the intake with the given id
func (c *Course) Intake(id string) (Intake, bool) {
	for _, in := range c.Intakes {
		if in.ID == id {
			return in, true
		}
	}
	return Intake{}, false
}

// Reminder returns the reminder with the given id
func (c *Course) Reminder(id string) (Reminder, bool) {
	for _, r := range c.Reminders {
		if r.ID == id {
			return r, true
		}
	}
	return Reminder{}, false
}

// SortIntakes orders intakes by date, oldest first
func (c *Course) SortIntakes() {
	sort.SliceStable(c.Intakes, func(i, j int) bool {
		return c.Intakes[i].Date.Before(c.Intakes[j].Date)
	})
}

// Clone returns a deep copy
func (c *Course) Clone() *Course {
	if c == nil {
		return nil
	}
	out := *c
	out.Intakes = append(make([]Intake, 0, len(c.Intakes)), c.Intakes...)
	out.Reminders = append(make([]Reminder, 0, len(c.Reminders)), c.Reminders...)
	return &out
}

// SortByStartDesc orders courses newest first, breaking ties by id
func SortByStartDesc(courses []*Course) {
	sort.SliceStable(courses, func(i, j int) bool {
		if courses[i].StartDate.Equal(courses[j].StartDate) {
			return courses[i].ID < courses[j].ID
		}
		return courses[i].StartDate.After(courses[j].StartDate)
	})
}
