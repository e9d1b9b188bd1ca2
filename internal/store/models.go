package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/course"
)

// CourseRecord is the persisted form of a course. Intakes and reminders are
// removed together with it inside one transaction.
type CourseRecord struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	MedicationID string    `gorm:"index" json:"medication_id"`
	TakingYear   int       `json:"taking_year"`
	StartDate    time.Time `gorm:"index" json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	IsCompleted  bool      `json:"is_completed"`
	IsPaused     bool      `json:"is_paused"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relationships
	Intakes   []IntakeRecord   `json:"intakes,omitempty" gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE"`
	Reminders []ReminderRecord `json:"reminders,omitempty" gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE"`
}

func (CourseRecord) TableName() string {
	return "courses"
}

// IntakeRecord is one logged dose
type IntakeRecord struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	CourseID     string    `gorm:"index:idx_course_date" json:"course_id"`
	Date         time.Time `gorm:"index:idx_course_date" json:"date"`
	MedicationID string    `json:"medication_id"`
	PackageID    string    `json:"package_id"`
	DosageType   string    `json:"dosage_type"`
	DosageAmount int       `json:"dosage_amount"`
	Comment      string    `json:"comment,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (IntakeRecord) TableName() string {
	return "intakes"
}

// ReminderRecord is a daily reminder time
type ReminderRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CourseID  string    `gorm:"index" json:"course_id"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReminderRecord) TableName() string {
	return "reminders"
}

// BeforeCreate hook for CourseRecord
func (c *CourseRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// BeforeCreate hook for IntakeRecord
func (i *IntakeRecord) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// BeforeCreate hook for ReminderRecord
func (r *ReminderRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func courseToRecord(c *course.Course) CourseRecord {
	rec := CourseRecord{
		ID:           c.ID,
		MedicationID: c.MedicationID,
		TakingYear:   int(c.TakingYear),
		StartDate:    c.StartDate.UTC(),
		EndDate:      c.EndDate.UTC(),
		IsCompleted:  c.IsCompleted,
		IsPaused:     c.IsPaused,
	}
	for _, in := range c.Intakes {
		rec.Intakes = append(rec.Intakes, intakeToRecord(c.ID, in))
	}
	for _, r := range c.Reminders {
		rec.Reminders = append(rec.Reminders, reminderToRecord(c.ID, r))
	}
	return rec
}

func intakeToRecord(courseID string, in course.Intake) IntakeRecord {
	return IntakeRecord{
		ID:           in.ID,
		CourseID:     courseID,
		Date:         in.Date.UTC(),
		MedicationID: in.MedicationID,
		PackageID:    in.PackageID,
		DosageType:   string(in.Dosage.Type),
		DosageAmount: in.Dosage.Amount,
		Comment:      in.Comment,
	}
}

func reminderToRecord(courseID string, r course.Reminder) ReminderRecord {
	return ReminderRecord{
		ID:       r.ID,
		CourseID: courseID,
		Hour:     r.Hour,
		Minute:   r.Minute,
		IsActive: r.Active,
	}
}

func (rec CourseRecord) toCourse(loc *time.Location) *course.Course {
	c := &course.Course{
		ID:           rec.ID,
		MedicationID: rec.MedicationID,
		TakingYear:   course.TakingYear(rec.TakingYear),
		StartDate:    rec.StartDate.In(loc),
		EndDate:      rec.EndDate.In(loc),
		IsCompleted:  rec.IsCompleted,
		IsPaused:     rec.IsPaused,
		Intakes:      make([]course.Intake, 0, len(rec.Intakes)),
		Reminders:    make([]course.Reminder, 0, len(rec.Reminders)),
	}
	for _, in := range rec.Intakes {
		c.Intakes = append(c.Intakes, in.toIntake(loc))
	}
	for _, r := range rec.Reminders {
		c.Reminders = append(c.Reminders, course.Reminder{
			ID:     r.ID,
			Hour:   r.Hour,
			Minute: r.Minute,
			Active: r.IsActive,
		})
	}
	return c
}

func (rec IntakeRecord) toIntake(loc *time.Location) course.Intake {
	return course.Intake{
		ID:           rec.ID,
		Date:         rec.Date.In(loc),
		MedicationID: rec.MedicationID,
		PackageID:    rec.PackageID,
		Dosage: catalog.Dosage{
			Type:   catalog.DosageType(rec.DosageType),
			Amount: rec.DosageAmount,
		},
		Comment: rec.Comment,
	}
}
