package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
)

// Store provides unified access to SQLite (courses) and BadgerDB (notification registry)
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	badger *badger.DB
	loc    *time.Location
}

// New opens the on-disk databases named by the storage config
func New(cfg *config.Config) (*Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "asit.db")
	}

	// Open SQLite with optimizations
	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// One writer keeps SQLite from returning SQLITE_BUSY under the manager lock
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "notifications")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil). // Disable verbose logging
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20). // 16MB value log files
		WithMemTableSize(16 << 20)      // 16MB memtable

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s, err := open(sqliteDB, badgerDB, loc)
	if err != nil {
		badgerDB.Close()
		sqliteDB.Close()
		return nil, err
	}
	return s, nil
}

// NewInMemory opens throwaway databases, used by tests and dry runs
func NewInMemory(loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}

	sqliteDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database
	sqliteDB.SetMaxOpenConns(1)

	badgerDB, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s, err := open(sqliteDB, badgerDB, loc)
	if err != nil {
		badgerDB.Close()
		sqliteDB.Close()
		return nil, err
	}
	return s, nil
}

func open(sqliteDB *sql.DB, badgerDB *badger.DB, loc *time.Location) (*Store, error) {
	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&CourseRecord{},
		&IntakeRecord{},
		&ReminderRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{
		db:     db,
		sqlDB:  sqliteDB,
		badger: badgerDB,
		loc:    loc,
	}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	var errs []error
	if s.badger != nil {
		errs = append(errs, s.badger.Close())
	}
	if s.sqlDB != nil {
		errs = append(errs, s.sqlDB.Close())
	}
	return errors.Join(errs...)
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SQL returns the underlying connection pool
func (s *Store) SQL() *sql.DB {
	return s.sqlDB
}

// Badger returns the BadgerDB instance
func (s *Store) Badger() *badger.DB {
	return s.badger
}

// Location is the calendar location loaded times are converted to
func (s *Store) Location() *time.Location {
	return s.loc
}

// ==================== Course Methods ====================

// LoadCourses reads every course with its intakes and reminders
func (s *Store) LoadCourses() ([]*course.Course, error) {
	var recs []CourseRecord
	err := s.db.
		Preload("Intakes", func(db *gorm.DB) *gorm.DB { return db.Order("date ASC") }).
		Preload("Reminders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("start_date DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*course.Course, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toCourse(s.loc))
	}
	return out, nil
}

// GetCourse reads one course with its children
func (s *Store) GetCourse(id string) (*course.Course, error) {
	var rec CourseRecord
	err := s.db.
		Preload("Intakes", func(db *gorm.DB) *gorm.DB { return db.Order("date ASC") }).
		Preload("Reminders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Withf(apperrors.ErrCourseNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	return rec.toCourse(s.loc), nil
}

// CreateCourse inserts a course together with any intakes and reminders it already owns
func (s *Store) CreateCourse(c *course.Course) error {
	rec := courseToRecord(c)

	// reminders are listed by creation time, keep the caller's order
	now := time.Now()
	for i := range rec.Reminders {
		rec.Reminders[i].CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
}

// UpdateCourse writes the course's own columns; children are left untouched
func (s *Store) UpdateCourse(c *course.Course) error {
	rec := courseToRecord(c)
	res := s.db.Model(&CourseRecord{}).Where("id = ?", c.ID).Updates(map[string]any{
		"taking_year":  rec.TakingYear,
		"start_date":   rec.StartDate,
		"end_date":     rec.EndDate,
		"is_completed": rec.IsCompleted,
		"is_paused":    rec.IsPaused,
		"updated_at":   time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Withf(apperrors.ErrCourseNotFound, "%s", c.ID)
	}
	return nil
}

// DeleteCourse removes the course and everything it owns in a single transaction
func (s *Store) DeleteCourse(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("course_id = ?", id).Delete(&IntakeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("course_id = ?", id).Delete(&ReminderRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&CourseRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.Withf(apperrors.ErrCourseNotFound, "%s", id)
		}
		return nil
	})
}

// ==================== Intake Methods ====================

// CreateIntake inserts an intake owned by courseID
func (s *Store) CreateIntake(courseID string, in course.Intake) error {
	rec := intakeToRecord(courseID, in)
	return s.db.Create(&rec).Error
}

// DeleteIntake removes one intake of a course
func (s *Store) DeleteIntake(courseID, intakeID string) error {
	res := s.db.Where("id = ? AND course_id = ?", intakeID, courseID).Delete(&IntakeRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Withf(apperrors.ErrIntakeNotFound, "%s", intakeID)
	}
	return nil
}

// ReplaceIntake swaps oldID for in atomically; an empty oldID only inserts
func (s *Store) ReplaceIntake(courseID, oldID string, in course.Intake) error {
	rec := intakeToRecord(courseID, in)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if oldID != "" {
			if err := tx.Where("id = ? AND course_id = ?", oldID, courseID).Delete(&IntakeRecord{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&rec).Error
	})
}

// CountIntakes returns the number of intakes stored for a course
func (s *Store) CountIntakes(courseID string) (int64, error) {
	var count int64
	err := s.db.Model(&IntakeRecord{}).Where("course_id = ?", courseID).Count(&count).Error
	return count, err
}

// ==================== Reminder Methods ====================

// CreateReminder inserts a reminder; when it is active every sibling is deactivated in the same transaction
func (s *Store) CreateReminder(courseID string, r course.Reminder) error {
	rec := reminderToRecord(courseID, r)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if rec.IsActive {
			if err := deactivateReminders(tx, courseID); err != nil {
				return err
			}
		}
		return tx.Create(&rec).Error
	})
}

// UpdateReminder writes the reminder's time of day
func (s *Store) UpdateReminder(courseID string, r course.Reminder) error {
	res := s.db.Model(&ReminderRecord{}).
		Where("id = ? AND course_id = ?", r.ID, courseID).
		Updates(map[string]any{"hour": r.Hour, "minute": r.Minute, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Withf(apperrors.ErrReminderNotFound, "%s", r.ID)
	}
	return nil
}

// ActivateReminder makes reminderID the only active reminder of the course
func (s *Store) ActivateReminder(courseID, reminderID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := deactivateReminders(tx, courseID); err != nil {
			return err
		}
		res := tx.Model(&ReminderRecord{}).
			Where("id = ? AND course_id = ?", reminderID, courseID).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.Withf(apperrors.ErrReminderNotFound, "%s", reminderID)
		}
		return nil
	})
}

// DeleteReminder removes one reminder of a course
func (s *Store) DeleteReminder(courseID, reminderID string) error {
	res := s.db.Where("id = ? AND course_id = ?", reminderID, courseID).Delete(&ReminderRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Withf(apperrors.ErrReminderNotFound, "%s", reminderID)
	}
	return nil
}

func deactivateReminders(tx *gorm.DB, courseID string) error {
	return tx.Model(&ReminderRecord{}).
		Where("course_id = ? AND is_active = ?", courseID, true).
		Update("is_active", false).Error
}
