package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory(time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCourse() *course.Course {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := course.New("staloral_birch_pollen", course.SecondYear, start, start.AddDate(0, 3, 0))
	dose := catalog.Dosage{Type: catalog.DosagePress, Amount: 3}
	c.Intakes = []course.Intake{
		course.NewIntake(start.Add(9*time.Hour), c.MedicationID, "bottle-10-ir", dose, "first"),
		course.NewIntake(start.Add(33*time.Hour), c.MedicationID, "bottle-10-ir", dose, ""),
	}
	first := course.NewReminder(9, 0)
	first.Active = true
	c.Reminders = []course.Reminder{first, course.NewReminder(21, 30)}
	return c
}

func TestStore_CreateAndLoadCourse(t *testing.T) {
	s := setupTestStore(t)
	c := sampleCourse()

	require.NoError(t, s.CreateCourse(c))

	loaded, err := s.GetCourse(c.ID)
	require.NoError(t, err)

	assert.Equal(t, c.MedicationID, loaded.MedicationID)
	assert.Equal(t, c.TakingYear, loaded.TakingYear)
	assert.True(t, c.StartDate.Equal(loaded.StartDate))
	assert.True(t, c.EndDate.Equal(loaded.EndDate))
	require.Len(t, loaded.Intakes, 2)
	assert.Equal(t, c.Intakes[0].ID, loaded.Intakes[0].ID)
	assert.Equal(t, c.Intakes[0].Dosage, loaded.Intakes[0].Dosage)
	assert.Equal(t, "first", loaded.Intakes[0].Comment)
	require.Len(t, loaded.Reminders, 2)
	assert.Equal(t, c.Reminders[0].ID, loaded.Reminders[0].ID)
	assert.True(t, loaded.Reminders[0].Active)
	assert.False(t, loaded.Reminders[1].Active)
}

func TestStore_LoadCoursesOrderedByStartDesc(t *testing.T) {
	s := setupTestStore(t)

	older := sampleCourse()
	newer := sampleCourse()
	newer.StartDate = older.StartDate.AddDate(1, 0, 0)
	newer.EndDate = newer.StartDate.AddDate(0, 1, 0)

	require.NoError(t, s.CreateCourse(older))
	require.NoError(t, s.CreateCourse(newer))

	courses, err := s.LoadCourses()
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, newer.ID, courses[0].ID)
	assert.Equal(t, older.ID, courses[1].ID)
}

func TestStore_UpdateCourse(t *testing.T) {
	s := setupTestStore(t)
	c := sampleCourse()
	require.NoError(t, s.CreateCourse(c))

	c.IsPaused = true
	c.IsCompleted = true
	require.NoError(t, s.UpdateCourse(c))

	loaded, err := s.GetCourse(c.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsPaused)
	assert.True(t, loaded.IsCompleted)
	assert.Len(t, loaded.Intakes, 2, "children are untouched")

	missing := sampleCourse()
	assert.ErrorIs(t, s.UpdateCourse(missing), apperrors.ErrCourseNotFound)
}

func TestStore_DeleteCourseCascades(t *testing.T) {
	s := setupTestStore(t)
	c := sampleCourse()
	other := sampleCourse()
	require.NoError(t, s.CreateCourse(c))
	require.NoError(t, s.CreateCourse(other))

	require.NoError(t, s.DeleteCourse(c.ID))

	_, err := s.GetCourse(c.ID)
	assert.ErrorIs(t, err, apperrors.ErrCourseNotFound)

	count, err := s.CountIntakes(c.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	var reminders int64
	require.NoError(t, s.DB().Model(&ReminderRecord{}).Where("course_id = ?", c.ID).Count(&reminders).Error)
	assert.Zero(t, reminders)

	count, err = s.CountIntakes(other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.ErrorIs(t, s.DeleteCourse(c.ID), apperrors.ErrCourseNotFound)
}

func TestStore_IntakeLifecycle(t *testing.T) {
	s := setupTestStore(t)
	c := sampleCourse()
	require.NoError(t, s.CreateCourse(c))

	in := course.NewIntake(c.StartDate.AddDate(0, 0, 2), c.MedicationID, "bottle-10-ir",
		catalog.Dosage{Type: catalog.DosagePress, Amount: 4}, "")
	require.NoError(t, s.CreateIntake(c.ID, in))

	edited := course.NewIntake(in.Date, c.MedicationID, "bottle-300-ir",
		catalog.Dosage{Type: catalog.DosagePress, Amount: 1}, "switched")
	require.NoError(t, s.ReplaceIntake(c.ID, in.ID, edited))

	loaded, err := s.GetCourse(c.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Intakes, 3)
	_, ok := loaded.Intake(in.ID)
	assert.False(t, ok)
	got, ok := loaded.Intake(edited.ID)
	require.True(t, ok)
	assert.Equal(t, "bottle-300-ir", got.PackageID)

	require.NoError(t, s.DeleteIntake(c.ID, edited.ID))
	assert.ErrorIs(t, s.DeleteIntake(c.ID, edited.ID), apperrors.ErrIntakeNotFound)
}

func TestStore_ReminderActivation(t *testing.T) {
	s := setupTestStore(t)
	c := sampleCourse()
	require.NoError(t, s.CreateCourse(c))

	second := c.Reminders[1]
	require.NoError(t, s.ActivateReminder(c.ID, second.ID))

	loaded, err := s.GetCourse(c.ID)
	require.NoError(t, err)
	active, ok := loaded.ActiveReminder()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	added := course.NewReminder(7, 15)
	added.Active = true
	require.NoError(t, s.CreateReminder(c.ID, added))

	loaded, err = s.GetCourse(c.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	active, _ = loaded.ActiveReminder()
	assert.Equal(t, added.ID, active.ID)

	added.Hour = 8
	require.NoError(t, s.UpdateReminder(c.ID, added))
	require.NoError(t, s.DeleteReminder(c.ID, added.ID))
	assert.ErrorIs(t, s.DeleteReminder(c.ID, added.ID), apperrors.ErrReminderNotFound)
	assert.ErrorIs(t, s.ActivateReminder(c.ID, "missing"), apperrors.ErrReminderNotFound)
}

func TestStore_LoadedTimesUseLocation(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	s, err := NewInMemory(moscow)
	require.NoError(t, err)
	defer s.Close()

	c := sampleCourse()
	require.NoError(t, s.CreateCourse(c))

	loaded, err := s.GetCourse(c.ID)
	require.NoError(t, err)
	assert.Equal(t, moscow, loaded.StartDate.Location())
	assert.True(t, c.StartDate.Equal(loaded.StartDate))
}

func TestNew_OnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)

	s, err := New(cfg)
	require.NoError(t, err)

	c := sampleCourse()
	require.NoError(t, s.CreateCourse(c))
	require.NoError(t, s.Close())

	s, err = New(cfg)
	require.NoError(t, err)
	defer s.Close()

	courses, err := s.LoadCourses()
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, c.ID, courses[0].ID)
}
