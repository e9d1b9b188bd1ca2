package courses

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/store"
)

type fakeScheduler struct {
	mu         sync.Mutex
	reconciled []string
	cancelled  []string
	cancelAll  []string
}

func (f *fakeScheduler) Reconcile(ctx context.Context, c *course.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, c.ID)
	return nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, r course.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, r.ID)
	return nil
}

func (f *fakeScheduler) CancelAll(ctx context.Context, c *course.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll = append(f.cancelAll, c.ID)
	for _, r := range c.Reminders {
		f.cancelled = append(f.cancelled, r.ID)
	}
	return nil
}

var press3 = catalog.Dosage{Type: catalog.DosagePress, Amount: 3}

func setupTestManager(t *testing.T) (*Manager, *store.Store, *fakeScheduler) {
	t.Helper()
	st, err := store.NewInMemory(time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sched := &fakeScheduler{}
	logger, _ := zap.NewDevelopment()
	mgr, err := NewManager(st, sched, nil, logger)
	require.NoError(t, err)
	return mgr, st, sched
}

func today() time.Time {
	return course.StartOfDay(time.Now().UTC()).Add(9 * time.Hour)
}

func newCourse() *course.Course {
	d := today()
	return course.New("staloral_birch_pollen", course.FirstYear, d.AddDate(0, 0, -10), d.AddDate(0, 0, 60))
}

func TestManager_AddCoursePublishesAfterPersist(t *testing.T) {
	mgr, st, sched := setupTestManager(t)
	snaps, cancel := mgr.Subscribe(4)
	defer cancel()

	added, err := mgr.AddCourse(context.Background(), newCourse())
	require.NoError(t, err)

	stored, err := st.GetCourse(added.ID)
	require.NoError(t, err)
	assert.Equal(t, added.MedicationID, stored.MedicationID)

	snap := <-snaps
	assert.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Courses, 1)
	assert.Equal(t, added.ID, snap.Courses[0].ID)
	assert.Equal(t, []string{added.ID}, sched.reconciled)
}

func TestManager_AddCourseRejectsInvalid(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	c := newCourse()
	c.EndDate = c.StartDate.AddDate(0, 0, -1)

	_, err := mgr.AddCourse(context.Background(), c)
	assert.ErrorIs(t, err, apperrors.ErrCourseInvalid)
	assert.Empty(t, mgr.Courses())
}

func TestManager_PersistenceFailureLeavesStateUntouched(t *testing.T) {
	mgr, st, sched := setupTestManager(t)
	added, err := mgr.AddCourse(context.Background(), newCourse())
	require.NoError(t, err)

	snaps, cancel := mgr.Subscribe(4)
	defer cancel()
	before := mgr.Snapshot()
	reconciledBefore := len(sched.reconciled)

	require.NoError(t, st.SQL().Close())

	_, err = mgr.AddCourse(context.Background(), newCourse())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	_, err = mgr.AddIntake(context.Background(), added.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	paused := added.Clone()
	paused.IsPaused = true
	_, err = mgr.UpdateCourse(context.Background(), paused)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	err = mgr.DeleteCourse(context.Background(), added.ID)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	after := mgr.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	require.Len(t, after.Courses, 1)
	assert.False(t, after.Courses[0].IsPaused)
	assert.Empty(t, after.Courses[0].Intakes)
	assert.Len(t, sched.reconciled, reconciledBefore)

	select {
	case s := <-snaps:
		t.Fatalf("unexpected snapshot %d after failed mutation", s.Version)
	default:
	}
}

func TestManager_DeleteCourseCancelsAndCascades(t *testing.T) {
	mgr, st, sched := setupTestManager(t)
	ctx := context.Background()

	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)
	r, err := mgr.AddReminder(ctx, c.ID, course.NewReminder(9, 0))
	require.NoError(t, err)
	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today().AddDate(0, 0, -1), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)
	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteCourse(ctx, c.ID))

	assert.Contains(t, sched.cancelAll, c.ID)
	assert.Contains(t, sched.cancelled, r.ID)

	count, err := st.CountIntakes(c.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = mgr.Course(c.ID)
	assert.ErrorIs(t, err, apperrors.ErrCourseNotFound)
	assert.ErrorIs(t, mgr.DeleteCourse(ctx, c.ID), apperrors.ErrCourseNotFound)
}

func TestManager_AddIntakeEnforcesOnePerDay(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	in, err := mgr.AddIntake(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)
	assert.Equal(t, c.MedicationID, in.MedicationID, "medication is snapshotted from the course")

	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today().Add(5*time.Hour), "", "bottle-10-ir", press3, ""))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateIntake)

	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today(), "", "", press3, ""))
	assert.ErrorIs(t, err, apperrors.ErrIntakeInvalid)
}

func TestManager_AddIntakeIfAbsent(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	first, created, err := mgr.AddIntakeIfAbsent(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := mgr.AddIntakeIfAbsent(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestManager_ConcurrentAddIntakeIfAbsent(t *testing.T) {
	mgr, st, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := mgr.AddIntakeIfAbsent(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := st.CountIntakes(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestManager_SaveIntakeReplaces(t *testing.T) {
	mgr, st, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	orig, err := mgr.SaveIntake(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)

	edited := course.NewIntake(today().Add(time.Hour), "", "bottle-300-ir",
		catalog.Dosage{Type: catalog.DosagePress, Amount: 1}, "new bottle")
	saved, err := mgr.SaveIntake(ctx, c.ID, edited)
	require.NoError(t, err)

	got, err := mgr.Course(c.ID)
	require.NoError(t, err)
	require.Len(t, got.Intakes, 1)
	assert.Equal(t, saved.ID, got.Intakes[0].ID)
	assert.Equal(t, "bottle-300-ir", got.Intakes[0].PackageID)
	_, ok := got.Intake(orig.ID)
	assert.False(t, ok)

	count, err := st.CountIntakes(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// moving an intake onto a day that already has another one is rejected
	yesterday, err := mgr.SaveIntake(ctx, c.ID, course.NewIntake(today().AddDate(0, 0, -1), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)
	yesterday.Date = today()
	_, err = mgr.SaveIntake(ctx, c.ID, yesterday)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateIntake)
}

func TestManager_DeleteIntake(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)
	in, err := mgr.AddIntake(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteIntake(ctx, c.ID, in.ID))
	assert.ErrorIs(t, mgr.DeleteIntake(ctx, c.ID, in.ID), apperrors.ErrIntakeNotFound)

	got, err := mgr.Course(c.ID)
	require.NoError(t, err)
	assert.False(t, got.HasIntake(today()))
}

func TestManager_HandleTakenActionFromPush(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	res, _, err := mgr.HandleTakenActionFromPush(ctx, c.ID, today())
	require.NoError(t, err)
	assert.Equal(t, TakenNoHistory, res)

	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today().AddDate(0, 0, -1), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)

	res, in, err := mgr.HandleTakenActionFromPush(ctx, c.ID, today())
	require.NoError(t, err)
	assert.Equal(t, TakenLogged, res)
	assert.Equal(t, press3, in.Dosage)

	res, existing, err := mgr.HandleTakenActionFromPush(ctx, c.ID, today().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, TakenDuplicate, res)
	assert.Equal(t, in.ID, existing.ID)

	res, _, err = mgr.HandleTakenActionFromPush(ctx, "gone", today())
	require.NoError(t, err)
	assert.Equal(t, TakenStale, res)
}

func TestManager_ReminderActivation(t *testing.T) {
	mgr, _, sched := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	first, err := mgr.AddReminder(ctx, c.ID, course.NewReminder(9, 0))
	require.NoError(t, err)
	assert.True(t, first.Active, "first reminder becomes active")

	second, err := mgr.AddReminder(ctx, c.ID, course.NewReminder(21, 0))
	require.NoError(t, err)
	assert.False(t, second.Active)

	require.NoError(t, mgr.ActivateReminder(ctx, c.ID, second.ID))
	got, err := mgr.Course(c.ID)
	require.NoError(t, err)
	active, ok := got.ActiveReminder()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	updated, err := mgr.UpdateReminder(ctx, c.ID, second.ID, 20, 45)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.Hour)

	_, err = mgr.UpdateReminder(ctx, c.ID, second.ID, 24, 0)
	assert.ErrorIs(t, err, apperrors.ErrReminderInvalid)

	require.NoError(t, mgr.DeleteReminder(ctx, c.ID, second.ID))
	assert.Contains(t, sched.cancelled, second.ID)

	got, err = mgr.Course(c.ID)
	require.NoError(t, err)
	_, ok = got.ActiveReminder()
	assert.False(t, ok, "deleting the active reminder promotes nothing")
	assert.Len(t, got.Reminders, 1)

	assert.ErrorIs(t, mgr.ActivateReminder(ctx, c.ID, "missing"), apperrors.ErrReminderNotFound)
}

func TestManager_UpdateCourseKeepsMedication(t *testing.T) {
	mgr, _, sched := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)

	c.IsPaused = true
	updated, err := mgr.UpdateCourse(ctx, c)
	require.NoError(t, err)
	assert.True(t, updated.IsPaused)
	assert.Equal(t, []string{c.ID, c.ID}, sched.reconciled)

	c.MedicationID = "other"
	_, err = mgr.UpdateCourse(ctx, c)
	assert.ErrorIs(t, err, apperrors.ErrCourseInvalid)
}

func TestManager_ReloadsFromStore(t *testing.T) {
	mgr, st, _ := setupTestManager(t)
	ctx := context.Background()
	c, err := mgr.AddCourse(ctx, newCourse())
	require.NoError(t, err)
	_, err = mgr.AddIntake(ctx, c.ID, course.NewIntake(today(), "", "bottle-10-ir", press3, ""))
	require.NoError(t, err)

	reloaded, err := NewManager(st, nil, nil, nil)
	require.NoError(t, err)

	got, err := reloaded.Course(c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasIntake(today()))
}

func TestManager_SlowSubscriberGetsLatest(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	ctx := context.Background()
	snaps, cancel := mgr.Subscribe(1)

	for i := 0; i < 3; i++ {
		_, err := mgr.AddCourse(ctx, newCourse())
		require.NoError(t, err)
	}

	snap := <-snaps
	assert.Equal(t, uint64(3), snap.Version)
	assert.Len(t, snap.Courses, 3)

	cancel()
	_, open := <-snaps
	assert.False(t, open)
	assert.NotPanics(t, cancel)
}

func TestManager_SnapshotsAreCopies(t *testing.T) {
	mgr, _, _ := setupTestManager(t)
	c, err := mgr.AddCourse(context.Background(), newCourse())
	require.NoError(t, err)

	list := mgr.Courses()
	list[0].IsPaused = true

	got, err := mgr.Course(c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaused)
}
