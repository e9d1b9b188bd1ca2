// Package courses owns the authoritative course collection. Every mutation is
// persisted before memory is updated, then observers receive a fresh snapshot.
package courses

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/metrics"
)

// Repository is the durable storage behind the manager
type Repository interface {
	LoadCourses() ([]*course.Course, error)
	CreateCourse(c *course.Course) error
	UpdateCourse(c *course.Course) error
	DeleteCourse(id string) error
	CreateIntake(courseID string, in course.Intake) error
	DeleteIntake(courseID, intakeID string) error
	ReplaceIntake(courseID, oldID string, in course.Intake) error
	CreateReminder(courseID string, r course.Reminder) error
	UpdateReminder(courseID string, r course.Reminder) error
	ActivateReminder(courseID, reminderID string) error
	DeleteReminder(courseID, reminderID string) error
}

// Scheduler keeps notifications in line with course state
type Scheduler interface {
	Reconcile(ctx context.Context, c *course.Course) error
	Cancel(ctx context.Context, r course.Reminder) error
	CancelAll(ctx context.Context, c *course.Course) error
}

// Snapshot is an immutable copy of the collection after a committed mutation
type Snapshot struct {
	Version uint64
	Courses []*course.Course
}

// TakenResult describes what a notification "taken" action did
type TakenResult int

const (
	TakenLogged TakenResult = iota
	// TakenDuplicate means the day already had an intake
	TakenDuplicate
	// TakenStale means the course no longer exists
	TakenStale
	// TakenNoHistory means there is no previous intake to copy
	TakenNoHistory
)

func (r TakenResult) String() string {
	switch r {
	case TakenLogged:
		return "logged"
	case TakenDuplicate:
		return "duplicate"
	case TakenStale:
		return "stale"
	case TakenNoHistory:
		return "no_history"
	default:
		return "unknown"
	}
}

// Manager is the single owner of the course collection
type Manager struct {
	repo      Repository
	scheduler Scheduler
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	courses map[string]*course.Course
	version uint64
	subs    map[int]chan Snapshot
	nextSub int
}

// NewManager loads the stored courses. A nil scheduler disables notification side effects.
func NewManager(repo Repository, scheduler Scheduler, m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loaded, err := repo.LoadCourses()
	if err != nil {
		m.RecordPersistenceFailure("load")
		return nil, apperrors.From(apperrors.ErrPersistence, err)
	}

	mgr := &Manager{
		repo:      repo,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
		courses:   make(map[string]*course.Course, len(loaded)),
		subs:      make(map[int]chan Snapshot),
	}
	for _, c := range loaded {
		mgr.courses[c.ID] = c
	}
	mgr.updateGaugesLocked()

	logger.Info("Courses loaded", zap.Int("count", len(loaded)))
	return mgr, nil
}

// ==================== Queries ====================

// Courses returns deep copies ordered by start date, newest first
func (m *Manager) Courses() []*course.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

// Course returns a copy of one course
func (m *Manager) Course(id string) (*course.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, apperrors.Withf(apperrors.ErrCourseNotFound, "%s", id)
	}
	return c.Clone(), nil
}

// Snapshot returns the current collection with its version
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Version: m.version, Courses: m.listLocked()}
}

// Subscribe returns a channel receiving a snapshot after every committed mutation.
// A slow subscriber loses older snapshots, never the newest. Call cancel to unsubscribe.
func (m *Manager) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Manager) listLocked() []*course.Course {
	out := make([]*course.Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c.Clone())
	}
	course.SortByStartDesc(out)
	return out
}

func (m *Manager) publishLocked() {
	m.version++
	m.updateGaugesLocked()
	snap := Snapshot{Version: m.version, Courses: m.listLocked()}
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// drop the oldest queued snapshot to make room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (m *Manager) updateGaugesLocked() {
	now := time.Now()
	active := 0
	for _, c := range m.courses {
		if c.IsActiveOn(now) {
			active++
		}
	}
	m.metrics.SetCourses(len(m.courses), active)
}

func (m *Manager) persistErr(op string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	m.metrics.RecordPersistenceFailure(op)
	m.logger.Error("Persistence failed", zap.String("op", op), zap.Error(err))
	return apperrors.From(apperrors.ErrPersistence, err)
}

func (m *Manager) getLocked(id string) (*course.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, apperrors.Withf(apperrors.ErrCourseNotFound, "%s", id)
	}
	return c, nil
}

// reconcileLocked runs the scheduling side effect; failures are logged, the mutation stands
func (m *Manager) reconcileLocked(ctx context.Context, c *course.Course) {
	if m.scheduler == nil {
		return
	}
	if err := m.scheduler.Reconcile(ctx, c.Clone()); err != nil {
		m.logger.Warn("Failed to reconcile reminders", zap.String("course_id", c.ID), zap.Error(err))
	}
}

// ==================== Courses ====================

// AddCourse inserts a new course together with any intakes and reminders it carries
func (m *Manager) AddCourse(ctx context.Context, c *course.Course) (*course.Course, error) {
	c = c.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Intakes == nil {
		c.Intakes = []course.Intake{}
	}
	if c.Reminders == nil {
		c.Reminders = []course.Reminder{}
	}
	for i := range c.Intakes {
		if c.Intakes[i].ID == "" {
			c.Intakes[i].ID = uuid.NewString()
		}
	}
	for i := range c.Reminders {
		if c.Reminders[i].ID == "" {
			c.Reminders[i].ID = uuid.NewString()
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.courses[c.ID]; exists {
		return nil, apperrors.Withf(apperrors.ErrCourseInvalid, "course %s already exists", c.ID)
	}
	if err := m.repo.CreateCourse(c); err != nil {
		return nil, m.persistErr("add_course", err)
	}

	m.courses[c.ID] = c
	m.reconcileLocked(ctx, c)
	m.publishLocked()

	m.logger.Info("Course added",
		zap.String("course_id", c.ID),
		zap.String("medication_id", c.MedicationID),
		zap.Int("intakes", len(c.Intakes)),
		zap.Int("reminders", len(c.Reminders)))
	return c.Clone(), nil
}

// ImportCourse stores a course decoded from an export document
func (m *Manager) ImportCourse(ctx context.Context, c *course.Course) (*course.Course, error) {
	added, err := m.AddCourse(ctx, c)
	if err != nil {
		return nil, err
	}
	for range added.Intakes {
		m.metrics.RecordIntake(metrics.SourceImport)
	}
	return added, nil
}

// UpdateCourse writes the mutable fields of c: taking year, dates, completed and paused flags.
// The medication is fixed at creation.
func (m *Manager) UpdateCourse(ctx context.Context, c *course.Course) (*course.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.getLocked(c.ID)
	if err != nil {
		return nil, err
	}
	if c.MedicationID != "" && c.MedicationID != current.MedicationID {
		return nil, apperrors.Withf(apperrors.ErrCourseInvalid, "medication cannot be changed")
	}

	next := current.Clone()
	next.TakingYear = c.TakingYear
	next.StartDate = c.StartDate
	next.EndDate = c.EndDate
	next.IsCompleted = c.IsCompleted
	next.IsPaused = c.IsPaused
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := m.repo.UpdateCourse(next); err != nil {
		return nil, m.persistErr("update_course", err)
	}

	m.courses[next.ID] = next
	m.reconcileLocked(ctx, next)
	m.publishLocked()

	m.logger.Info("Course updated",
		zap.String("course_id", next.ID),
		zap.Bool("paused", next.IsPaused),
		zap.Bool("completed", next.IsCompleted))
	return next.Clone(), nil
}

// DeleteCourse removes the course with its intakes and reminders and cancels its notifications
func (m *Manager) DeleteCourse(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(id)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteCourse(id); err != nil {
		return m.persistErr("delete_course", err)
	}

	delete(m.courses, id)
	if m.scheduler != nil {
		if err := m.scheduler.CancelAll(ctx, c); err != nil {
			m.logger.Warn("Failed to cancel reminders", zap.String("course_id", id), zap.Error(err))
		}
	}
	m.publishLocked()

	m.logger.Info("Course deleted", zap.String("course_id", id))
	return nil
}

// ==================== Intakes ====================

func (m *Manager) prepareIntake(c *course.Course, in course.Intake) (course.Intake, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.MedicationID == "" {
		in.MedicationID = c.MedicationID
	}
	return in, in.Validate()
}

// AddIntake appends an intake. A second intake on the same calendar day is rejected.
func (m *Manager) AddIntake(ctx context.Context, courseID string, in course.Intake) (course.Intake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return course.Intake{}, err
	}
	in, err = m.prepareIntake(c, in)
	if err != nil {
		return course.Intake{}, err
	}
	if c.HasIntake(in.Date) {
		return course.Intake{}, apperrors.Withf(apperrors.ErrDuplicateIntake, "%s", course.DayKey(in.Date))
	}

	if err := m.insertIntakeLocked(c, in); err != nil {
		return course.Intake{}, err
	}
	m.metrics.RecordIntake(metrics.SourceManual)
	return in, nil
}

// AddIntakeIfAbsent checks and inserts under one lock. When the day already has
// an intake it is returned with created=false.
func (m *Manager) AddIntakeIfAbsent(ctx context.Context, courseID string, in course.Intake) (course.Intake, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return course.Intake{}, false, err
	}
	if existing, ok := c.IntakeOn(in.Date); ok {
		return existing, false, nil
	}
	in, err = m.prepareIntake(c, in)
	if err != nil {
		return course.Intake{}, false, err
	}
	if err := m.insertIntakeLocked(c, in); err != nil {
		return course.Intake{}, false, err
	}
	return in, true, nil
}

func (m *Manager) insertIntakeLocked(c *course.Course, in course.Intake) error {
	if err := m.repo.CreateIntake(c.ID, in); err != nil {
		return m.persistErr("add_intake", err)
	}

	next := c.Clone()
	next.Intakes = append(next.Intakes, in)
	next.SortIntakes()
	m.courses[c.ID] = next
	m.publishLocked()

	m.logger.Info("Intake logged",
		zap.String("course_id", c.ID),
		zap.String("intake_id", in.ID),
		zap.String("date", course.DayKey(in.Date)),
		zap.String("dosage", in.Dosage.String()))
	return nil
}

// SaveIntake creates or edits the intake for its calendar day. An intake with the
// same ID, or else the one already on that day, is replaced atomically.
func (m *Manager) SaveIntake(ctx context.Context, courseID string, in course.Intake) (course.Intake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return course.Intake{}, err
	}

	var old course.Intake
	var hasOld bool
	if in.ID != "" {
		old, hasOld = c.Intake(in.ID)
	}
	onDay, dayTaken := c.IntakeOn(in.Date)
	if !hasOld && dayTaken {
		old, hasOld = onDay, true
	}
	if hasOld && dayTaken && onDay.ID != old.ID {
		return course.Intake{}, apperrors.Withf(apperrors.ErrDuplicateIntake, "%s", course.DayKey(in.Date))
	}

	in, err = m.prepareIntake(c, in)
	if err != nil {
		return course.Intake{}, err
	}

	oldID := ""
	if hasOld {
		oldID = old.ID
	}
	if err := m.repo.ReplaceIntake(c.ID, oldID, in); err != nil {
		return course.Intake{}, m.persistErr("save_intake", err)
	}

	next := c.Clone()
	if hasOld {
		kept := next.Intakes[:0]
		for _, x := range next.Intakes {
			if x.ID != old.ID {
				kept = append(kept, x)
			}
		}
		next.Intakes = kept
	}
	next.Intakes = append(next.Intakes, in)
	next.SortIntakes()
	m.courses[c.ID] = next
	m.publishLocked()

	if !hasOld {
		m.metrics.RecordIntake(metrics.SourceManual)
	}
	m.logger.Info("Intake saved",
		zap.String("course_id", c.ID),
		zap.String("intake_id", in.ID),
		zap.String("replaced", oldID),
		zap.String("date", course.DayKey(in.Date)))
	return in, nil
}

// DeleteIntake removes one intake from the course
func (m *Manager) DeleteIntake(ctx context.Context, courseID, intakeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return err
	}
	if _, ok := c.Intake(intakeID); !ok {
		return apperrors.Withf(apperrors.ErrIntakeNotFound, "%s", intakeID)
	}
	if err := m.repo.DeleteIntake(courseID, intakeID); err != nil {
		return m.persistErr("delete_intake", err)
	}

	next := c.Clone()
	kept := next.Intakes[:0]
	for _, x := range next.Intakes {
		if x.ID != intakeID {
			kept = append(kept, x)
		}
	}
	next.Intakes = kept
	m.courses[courseID] = next
	m.publishLocked()

	m.logger.Info("Intake deleted", zap.String("course_id", courseID), zap.String("intake_id", intakeID))
	return nil
}

// HandleTakenActionFromPush logs an intake for date copied from the last intake.
// State is re-read under the lock, so a stale or repeated action never duplicates.
func (m *Manager) HandleTakenActionFromPush(ctx context.Context, courseID string, date time.Time) (TakenResult, course.Intake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.courses[courseID]
	if !ok {
		return TakenStale, course.Intake{}, nil
	}
	if existing, ok := c.IntakeOn(date); ok {
		return TakenDuplicate, existing, nil
	}
	in, ok := c.QuickIntake(date)
	if !ok {
		return TakenNoHistory, course.Intake{}, nil
	}
	if err := m.insertIntakeLocked(c, in); err != nil {
		return TakenLogged, course.Intake{}, err
	}
	return TakenLogged, in, nil
}

// ==================== Reminders ====================

// AddReminder appends a reminder. It becomes active when the course has no active
// reminder yet, or when r.Active is set, in which case the previous one is deactivated.
func (m *Manager) AddReminder(ctx context.Context, courseID string, r course.Reminder) (course.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := r.Validate(); err != nil {
		return course.Reminder{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return course.Reminder{}, err
	}
	if _, ok := c.ActiveReminder(); !ok {
		r.Active = true
	}

	if err := m.repo.CreateReminder(courseID, r); err != nil {
		return course.Reminder{}, m.persistErr("add_reminder", err)
	}

	next := c.Clone()
	if r.Active {
		for i := range next.Reminders {
			next.Reminders[i].Active = false
		}
	}
	next.Reminders = append(next.Reminders, r)
	m.courses[courseID] = next
	m.reconcileLocked(ctx, next)
	m.publishLocked()

	m.logger.Info("Reminder added",
		zap.String("course_id", courseID),
		zap.String("reminder_id", r.ID),
		zap.String("time", r.TimeOfDay()),
		zap.Bool("active", r.Active))
	return r, nil
}

// UpdateReminder changes the time of day of a reminder
func (m *Manager) UpdateReminder(ctx context.Context, courseID, reminderID string, hour, minute int) (course.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return course.Reminder{}, err
	}
	r, ok := c.Reminder(reminderID)
	if !ok {
		return course.Reminder{}, apperrors.Withf(apperrors.ErrReminderNotFound, "%s", reminderID)
	}
	r.Hour, r.Minute = hour, minute
	if err := r.Validate(); err != nil {
		return course.Reminder{}, err
	}

	if err := m.repo.UpdateReminder(courseID, r); err != nil {
		return course.Reminder{}, m.persistErr("update_reminder", err)
	}

	next := c.Clone()
	for i := range next.Reminders {
		if next.Reminders[i].ID == reminderID {
			next.Reminders[i] = r
		}
	}
	m.courses[courseID] = next
	m.reconcileLocked(ctx, next)
	m.publishLocked()

	m.logger.Info("Reminder updated",
		zap.String("course_id", courseID),
		zap.String("reminder_id", reminderID),
		zap.String("time", r.TimeOfDay()))
	return r, nil
}

// ActivateReminder makes reminderID the course's only active reminder
func (m *Manager) ActivateReminder(ctx context.Context, courseID, reminderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return err
	}
	if _, ok := c.Reminder(reminderID); !ok {
		return apperrors.Withf(apperrors.ErrReminderNotFound, "%s", reminderID)
	}

	if err := m.repo.ActivateReminder(courseID, reminderID); err != nil {
		return m.persistErr("activate_reminder", err)
	}

	next := c.Clone()
	for i := range next.Reminders {
		next.Reminders[i].Active = next.Reminders[i].ID == reminderID
	}
	m.courses[courseID] = next
	m.reconcileLocked(ctx, next)
	m.publishLocked()

	m.logger.Info("Reminder activated", zap.String("course_id", courseID), zap.String("reminder_id", reminderID))
	return nil
}

// DeleteReminder removes a reminder and cancels its notifications. Deleting the
// active reminder leaves the course without one; no other reminder is promoted.
func (m *Manager) DeleteReminder(ctx context.Context, courseID, reminderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getLocked(courseID)
	if err != nil {
		return err
	}
	r, ok := c.Reminder(reminderID)
	if !ok {
		return apperrors.Withf(apperrors.ErrReminderNotFound, "%s", reminderID)
	}

	if err := m.repo.DeleteReminder(courseID, reminderID); err != nil {
		return m.persistErr("delete_reminder", err)
	}

	next := c.Clone()
	kept := next.Reminders[:0]
	for _, x := range next.Reminders {
		if x.ID != reminderID {
			kept = append(kept, x)
		}
	}
	next.Reminders = kept
	m.courses[courseID] = next

	if m.scheduler != nil {
		if err := m.scheduler.Cancel(ctx, r); err != nil {
			m.logger.Warn("Failed to cancel reminder", zap.String("reminder_id", reminderID), zap.Error(err))
		}
	}
	m.reconcileLocked(ctx, next)
	m.publishLocked()

	m.logger.Info("Reminder deleted", zap.String("course_id", courseID), zap.String("reminder_id", reminderID))
	return nil
}
