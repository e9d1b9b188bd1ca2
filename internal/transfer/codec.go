// Package transfer reads and writes the versioned JSON course document used to
// move a course between installations.
package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
)

// CurrentVersion is the schema version this codec writes and the highest it reads
const CurrentVersion = 1

// Document is the top-level export file
type Document struct {
	Version    int       `json:"version"`
	ExportDate time.Time `json:"exportDate"`
	Course     CourseDoc `json:"course"`
}

type CourseDoc struct {
	MedicationID string            `json:"medicationId"`
	TakingYear   course.TakingYear `json:"takingYear"`
	StartDate    time.Time         `json:"startDate"`
	EndDate      time.Time         `json:"endDate"`
	IsCompleted  bool              `json:"isCompleted"`
	IsPaused     bool              `json:"isPaused"`
	Intakes      []IntakeDoc       `json:"intakes"`
	Reminders    []ReminderDoc     `json:"reminders"`
}

type IntakeDoc struct {
	Date         time.Time      `json:"date"`
	MedicationID string         `json:"medicationId"`
	PackageID    string         `json:"packageId"`
	Dosage       catalog.Dosage `json:"dosage"`
	Comment      *string        `json:"comment,omitempty"`
}

// ReminderDoc carries IsActive only in documents written by this codec
type ReminderDoc struct {
	Hour     int   `json:"hour"`
	Minute   int   `json:"minute"`
	IsActive *bool `json:"isActive,omitempty"`
}

// Codec converts courses to and from export documents
type Codec struct {
	loc *time.Location
	now func() time.Time
}

// New creates a codec. Imported dates are converted into loc.
func New(loc *time.Location, now func() time.Time) *Codec {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{loc: loc, now: now}
}

// Export encodes a course as an indented document stamped with the current time
func (c *Codec) Export(crs *course.Course) ([]byte, error) {
	if crs == nil {
		return nil, apperrors.Withf(apperrors.ErrEncodeFailed, "no course")
	}

	doc := Document{
		Version:    CurrentVersion,
		ExportDate: c.now().UTC(),
		Course: CourseDoc{
			MedicationID: crs.MedicationID,
			TakingYear:   crs.TakingYear,
			StartDate:    crs.StartDate.UTC(),
			EndDate:      crs.EndDate.UTC(),
			IsCompleted:  crs.IsCompleted,
			IsPaused:     crs.IsPaused,
			Intakes:      make([]IntakeDoc, 0, len(crs.Intakes)),
			Reminders:    make([]ReminderDoc, 0, len(crs.Reminders)),
		},
	}
	for _, in := range crs.Intakes {
		d := IntakeDoc{
			Date:         in.Date.UTC(),
			MedicationID: in.MedicationID,
			PackageID:    in.PackageID,
			Dosage:       in.Dosage,
		}
		if in.Comment != "" {
			comment := in.Comment
			d.Comment = &comment
		}
		doc.Course.Intakes = append(doc.Course.Intakes, d)
	}
	for _, r := range crs.Reminders {
		active := r.Active
		doc.Course.Reminders = append(doc.Course.Reminders, ReminderDoc{
			Hour:     r.Hour,
			Minute:   r.Minute,
			IsActive: &active,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperrors.From(apperrors.ErrEncodeFailed, err)
	}
	return data, nil
}

// Import decodes a document into a new course. Every id is freshly generated;
// the result is never merged into an existing course.
func (c *Codec) Import(data []byte) (*course.Course, error) {
	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, apperrors.From(apperrors.ErrDecodeFailed, err)
	}
	if header.Version == nil {
		return nil, apperrors.Withf(apperrors.ErrDecodeFailed, "missing version")
	}
	if *header.Version > CurrentVersion {
		return nil, apperrors.Withf(apperrors.ErrUnsupportedVersion, "version %d, supported up to %d", *header.Version, CurrentVersion)
	}
	if *header.Version < 1 {
		return nil, apperrors.Withf(apperrors.ErrDecodeFailed, "invalid version %d", *header.Version)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.From(apperrors.ErrDecodeFailed, err)
	}

	src := doc.Course
	crs := course.New(src.MedicationID, src.TakingYear, src.StartDate.In(c.loc), src.EndDate.In(c.loc))
	crs.IsCompleted = src.IsCompleted
	crs.IsPaused = src.IsPaused

	for _, in := range src.Intakes {
		medicationID := in.MedicationID
		if medicationID == "" {
			medicationID = src.MedicationID
		}
		comment := ""
		if in.Comment != nil {
			comment = *in.Comment
		}
		crs.Intakes = append(crs.Intakes, course.NewIntake(in.Date.In(c.loc), medicationID, in.PackageID, in.Dosage, comment))
	}
	crs.SortIntakes()

	crs.Reminders = importReminders(src.Reminders)

	if err := crs.Validate(); err != nil {
		return nil, apperrors.From(apperrors.ErrDecodeFailed, err)
	}
	return crs, nil
}

// importReminders applies the active flag. Older documents have no flag, in
// which case a sole reminder is active. Only the first flagged reminder stays active.
func importReminders(docs []ReminderDoc) []course.Reminder {
	flagged := false
	for _, d := range docs {
		if d.IsActive != nil {
			flagged = true
			break
		}
	}

	out := make([]course.Reminder, 0, len(docs))
	seenActive := false
	for _, d := range docs {
		r := course.NewReminder(d.Hour, d.Minute)
		switch {
		case flagged:
			r.Active = d.IsActive != nil && *d.IsActive && !seenActive
		default:
			r.Active = len(docs) == 1
		}
		if r.Active {
			seenActive = true
		}
		out = append(out, r)
	}
	return out
}

// FileName is "{medicationId}_{yyyy-MM-dd}.json" using the export day in the codec's calendar
func (c *Codec) FileName(crs *course.Course) string {
	return fmt.Sprintf("%s_%s.json", sanitizeFileName(crs.MedicationID), c.now().In(c.loc).Format("2006-01-02"))
}

// WriteFile exports crs into dir and returns the written path
func (c *Codec) WriteFile(crs *course.Course, dir string) (string, error) {
	data, err := c.Export(crs)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.From(apperrors.ErrEncodeFailed, err)
	}
	path := filepath.Join(dir, c.FileName(crs))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", apperrors.From(apperrors.ErrEncodeFailed, err)
	}
	return path, nil
}

// ReadFile imports the document at path
func (c *Codec) ReadFile(path string) (*course.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.From(apperrors.ErrDecodeFailed, err)
	}
	return c.Import(data)
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "course"
	}
	return b.String()
}
