// Package intake decides, for a course and a calendar day, whether a dose is
// done, what a new intake should be prefilled with, and how notification
// actions translate into intakes.
package intake

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/course"
	"github.com/gmsas95/asit/internal/courses"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/metrics"
	"github.com/gmsas95/asit/internal/notify"
)

// Status of a course on a day
type Status string

const (
	StatusDone               Status = "done"
	StatusPendingWithHistory Status = "pending-with-history"
	StatusPendingNoHistory   Status = "pending-no-history"
)

// StatusFor derives the status of c on the calendar day of date
func StatusFor(c *course.Course, date time.Time) Status {
	if c.HasIntake(date) {
		return StatusDone
	}
	if _, ok := c.LastIntake(); ok {
		return StatusPendingWithHistory
	}
	return StatusPendingNoHistory
}

// CourseStore is the part of the course manager the engine writes through
type CourseStore interface {
	Courses() []*course.Course
	Course(id string) (*course.Course, error)
	AddIntakeIfAbsent(ctx context.Context, courseID string, in course.Intake) (course.Intake, bool, error)
	SaveIntake(ctx context.Context, courseID string, in course.Intake) (course.Intake, error)
	HandleTakenActionFromPush(ctx context.Context, courseID string, date time.Time) (courses.TakenResult, course.Intake, error)
}

// Snoozer schedules the one-shot follow-up of a snoozed reminder
type Snoozer interface {
	ScheduleOneTime(ctx context.Context, courseID, reminderID, medicationID string, originalDate time.Time, after time.Duration) error
}

// DeliveryLog tells when a notification was shown
type DeliveryLog interface {
	DeliveredAt(ctx context.Context, id string) (time.Time, bool, error)
}

// Options configures an Engine
type Options struct {
	Catalog     *catalog.Catalog
	Snoozer     Snoozer
	Deliveries  DeliveryLog
	SnoozeDelay time.Duration
	Location    *time.Location
	Lang        string
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Engine answers intake queries and applies intake actions
type Engine struct {
	store       CourseStore
	catalog     *catalog.Catalog
	snoozer     Snoozer
	deliveries  DeliveryLog
	snoozeDelay time.Duration
	loc         *time.Location
	lang        string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine creates an engine over the course store
func NewEngine(store CourseStore, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Empty()
	}
	if opts.SnoozeDelay <= 0 {
		opts.SnoozeDelay = time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:       store,
		catalog:     opts.Catalog,
		snoozer:     opts.Snoozer,
		deliveries:  opts.Deliveries,
		snoozeDelay: opts.SnoozeDelay,
		loc:         opts.Location,
		lang:        opts.Lang,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         opts.Now,
	}
}

// Location is the calendar used for day boundaries
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Today returns the current instant in the engine's calendar
func (e *Engine) Today() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) local(t time.Time) time.Time {
	return t.In(e.loc)
}

// ==================== Queries ====================

// Status returns the intake status of a course on date
func (e *Engine) Status(courseID string, date time.Time) (Status, error) {
	c, err := e.store.Course(courseID)
	if err != nil {
		return "", err
	}
	return StatusFor(c, e.local(date)), nil
}

// LastIntake returns the most recent intake of a course
func (e *Engine) LastIntake(courseID string) (course.Intake, bool, error) {
	c, err := e.store.Course(courseID)
	if err != nil {
		return course.Intake{}, false, err
	}
	in, ok := c.LastIntake()
	return in, ok, nil
}

// ActiveCoursesOn lists courses expecting a dose on date, newest first
func (e *Engine) ActiveCoursesOn(date time.Time) []*course.Course {
	date = e.local(date)
	var out []*course.Course
	for _, c := range e.store.Courses() {
		if c.IsActiveOn(date) {
			out = append(out, c)
		}
	}
	return out
}

// AvailablePackages lists catalog packages for a medication; empty when unknown
func (e *Engine) AvailablePackages(medicationID string) []catalog.Package {
	return e.catalog.Packages(medicationID)
}

// AvailableDosages lists dosages of a package; empty when unknown
func (e *Engine) AvailableDosages(medicationID, packageID string) []catalog.Dosage {
	return e.catalog.Dosages(medicationID, packageID)
}

// MedicationName is the display label for a medication, the raw id when unknown
func (e *Engine) MedicationName(medicationID string) string {
	return e.catalog.DisplayName(medicationID, e.lang)
}

// DayEntry is one active course on a day
type DayEntry struct {
	Course         *course.Course `json:"course"`
	MedicationName string         `json:"medicationName"`
	Status         Status         `json:"status"`
	Intake         *course.Intake `json:"intake,omitempty"`
}

// DayOverview summarizes every active course on a day
type DayOverview struct {
	Date     string     `json:"date"`
	Entries  []DayEntry `json:"entries"`
	AllTaken bool       `json:"allTaken"`
}

// DayOverview reports the status of each active course; AllTaken needs at least one course
func (e *Engine) DayOverview(date time.Time) DayOverview {
	date = e.local(date)
	active := e.ActiveCoursesOn(date)

	ov := DayOverview{
		Date:    course.DayKey(date),
		Entries: make([]DayEntry, 0, len(active)),
	}
	allTaken := len(active) > 0
	for _, c := range active {
		entry := DayEntry{
			Course:         c,
			MedicationName: e.MedicationName(c.MedicationID),
			Status:         StatusFor(c, date),
		}
		if in, ok := c.IntakeOn(date); ok {
			entry.Intake = &in
		} else {
			allTaken = false
		}
		ov.Entries = append(ov.Entries, entry)
	}
	ov.AllTaken = allTaken
	return ov
}

// ==================== Prefill ====================

// Prefill is the initial state of the intake entry form
type Prefill struct {
	Date             time.Time         `json:"date"`
	MedicationID     string            `json:"medicationId"`
	MedicationName   string            `json:"medicationName"`
	ExistingIntakeID string            `json:"existingIntakeId,omitempty"`
	PackageID        string            `json:"packageId,omitempty"`
	Dosage           *catalog.Dosage   `json:"dosage,omitempty"`
	Comment          string            `json:"comment,omitempty"`
	Packages         []catalog.Package `json:"packages"`
	Dosages          []catalog.Dosage  `json:"dosages"`
}

// Prefill picks defaults for an intake on date. The intake already on that day
// wins over the last intake. Catalog options replace history the catalog no longer offers.
func (e *Engine) Prefill(courseID string, date time.Time) (Prefill, error) {
	c, err := e.store.Course(courseID)
	if err != nil {
		return Prefill{}, err
	}
	date = e.local(date)

	p := Prefill{
		Date:           date,
		MedicationID:   c.MedicationID,
		MedicationName: e.MedicationName(c.MedicationID),
		Packages:       e.catalog.Packages(c.MedicationID),
	}

	var source course.Intake
	var hasSource bool
	if existing, ok := c.IntakeOn(date); ok {
		source, hasSource = existing, true
		p.ExistingIntakeID = existing.ID
		p.Comment = existing.Comment
	} else if last, ok := c.LastIntake(); ok {
		source, hasSource = last, true
	}

	if len(p.Packages) == 0 {
		// unknown medication: no options to validate against, keep history as is
		if hasSource {
			p.PackageID = source.PackageID
			d := source.Dosage
			p.Dosage = &d
		}
		return p, nil
	}

	pkg := p.Packages[0]
	if hasSource {
		for _, candidate := range p.Packages {
			if candidate.ID == source.PackageID {
				pkg = candidate
				break
			}
		}
	}
	p.PackageID = pkg.ID
	p.Dosages = pkg.Dosages

	switch {
	case hasSource && pkg.Offers(source.Dosage):
		d := source.Dosage
		p.Dosage = &d
	case len(pkg.Dosages) > 0:
		d := pkg.Dosages[0]
		p.Dosage = &d
	}
	return p, nil
}

// ==================== Commands ====================

// QuickConfirm logs an intake for date copying package and dosage from the last
// intake. When the day is already done the existing intake is returned with created=false.
func (e *Engine) QuickConfirm(ctx context.Context, courseID string, date time.Time) (course.Intake, bool, error) {
	c, err := e.store.Course(courseID)
	if err != nil {
		return course.Intake{}, false, err
	}
	date = e.local(date)

	if existing, ok := c.IntakeOn(date); ok {
		return existing, false, nil
	}
	in, ok := c.QuickIntake(date)
	if !ok {
		return course.Intake{}, false, apperrors.Withf(apperrors.ErrNoIntakeHistory, "%s", courseID)
	}

	// the store re-checks the day under its lock
	saved, created, err := e.store.AddIntakeIfAbsent(ctx, courseID, in)
	if err != nil {
		return course.Intake{}, false, err
	}
	if created {
		e.metrics.RecordIntake(metrics.SourceQuick)
	}
	return saved, created, nil
}

// IntakeForm is a manually entered intake. A non-empty ID edits that intake.
type IntakeForm struct {
	ID        string         `json:"id,omitempty"`
	Date      time.Time      `json:"date"`
	PackageID string         `json:"packageId"`
	Dosage    catalog.Dosage `json:"dosage"`
	Comment   string         `json:"comment,omitempty"`
}

// SaveIntake creates or replaces the intake for the form's day. For medications
// the catalog knows, the package must exist and offer the dosage.
func (e *Engine) SaveIntake(ctx context.Context, courseID string, form IntakeForm) (course.Intake, error) {
	c, err := e.store.Course(courseID)
	if err != nil {
		return course.Intake{}, err
	}

	if med, known := e.catalog.Lookup(c.MedicationID); known {
		pkg, ok := med.Package(form.PackageID)
		if !ok {
			return course.Intake{}, apperrors.Withf(apperrors.ErrIntakeInvalid, "package %s is not offered for %s", form.PackageID, c.MedicationID)
		}
		if !pkg.Offers(form.Dosage) {
			return course.Intake{}, apperrors.Withf(apperrors.ErrIntakeInvalid, "dosage %s is not offered by %s", form.Dosage, form.PackageID)
		}
	}

	in := course.Intake{
		ID:           form.ID,
		Date:         e.local(form.Date),
		MedicationID: c.MedicationID,
		PackageID:    form.PackageID,
		Dosage:       form.Dosage,
		Comment:      form.Comment,
	}
	return e.store.SaveIntake(ctx, courseID, in)
}

// ActionResult reports what a notification action did
type ActionResult struct {
	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Intake  *course.Intake `json:"intake,omitempty"`
}

// shownAt resolves when the notification behind resp was delivered. The
// response's own delivery time wins, then the delivery log, then the action time.
func (e *Engine) shownAt(ctx context.Context, resp notify.Response) time.Time {
	if !resp.DeliveredAt.IsZero() {
		return resp.DeliveredAt
	}
	if e.deliveries != nil && resp.Payload.ReminderID != "" {
		at, ok, err := e.deliveries.DeliveredAt(ctx, resp.Payload.ReminderID)
		if err != nil {
			e.logger.Warn("Delivery time unavailable, using action time",
				zap.String("reminder_id", resp.Payload.ReminderID), zap.Error(err))
		} else if ok {
			return at
		}
	}
	if !resp.At.IsZero() {
		return resp.At
	}
	return e.now()
}

// HandleAction applies a notification response. The intended day is the
// payload's original date for a snoozed reminder and the delivery day
// otherwise, so a reminder shown at 23:58 and answered at 00:02 logs the earlier day.
func (e *Engine) HandleAction(ctx context.Context, resp notify.Response) (ActionResult, error) {
	var date time.Time
	if resp.Payload.OriginalDate != nil {
		date = resp.Payload.IntendedDate(e.local(e.now()))
	} else {
		date = e.local(e.shownAt(ctx, resp))
	}
	res := ActionResult{Action: resp.ActionID}

	logger := e.logger.With(
		zap.String("action", resp.ActionID),
		zap.String("course_id", resp.Payload.CourseID),
		zap.String("reminder_id", resp.Payload.ReminderID),
		zap.String("date", course.DayKey(date)))

	switch resp.ActionID {
	case notify.ActionTaken:
		result, in, err := e.store.HandleTakenActionFromPush(ctx, resp.Payload.CourseID, date)
		if err != nil {
			e.metrics.RecordPushAction(resp.ActionID, metrics.OutcomeFailed)
			logger.Error("Failed to log intake from notification", zap.Error(err))
			return res, err
		}
		switch result {
		case courses.TakenLogged:
			res.Outcome = metrics.OutcomeLogged
			res.Intake = &in
			e.metrics.RecordIntake(metrics.SourcePush)
		case courses.TakenDuplicate:
			res.Outcome = metrics.OutcomeDuplicate
			res.Intake = &in
		case courses.TakenStale:
			res.Outcome = metrics.OutcomeStale
		default:
			res.Outcome = metrics.OutcomeIgnored
		}
		logger.Info("Taken action handled", zap.String("outcome", res.Outcome))

	case notify.ActionSnooze:
		c, err := e.store.Course(resp.Payload.CourseID)
		if err != nil {
			res.Outcome = metrics.OutcomeStale
			logger.Info("Snooze for unknown course ignored")
			break
		}
		if e.snoozer == nil {
			res.Outcome = metrics.OutcomeIgnored
			break
		}
		if err := e.snoozer.ScheduleOneTime(ctx, c.ID, resp.Payload.ReminderID, c.MedicationID, date, e.snoozeDelay); err != nil {
			e.metrics.RecordPushAction(resp.ActionID, metrics.OutcomeFailed)
			logger.Error("Failed to schedule snooze", zap.Error(err))
			return res, err
		}
		res.Outcome = metrics.OutcomeSnoozed
		logger.Info("Reminder snoozed", zap.Duration("delay", e.snoozeDelay))

	default:
		res.Outcome = metrics.OutcomeIgnored
	}

	e.metrics.RecordPushAction(resp.ActionID, res.Outcome)
	return res, nil
}

// ShouldPresent decides at delivery time whether a reminder is shown. It is
// suppressed only when the intended day already has an intake; a reminder whose
// course cannot be found is shown.
func (e *Engine) ShouldPresent(payload notify.Payload, deliveredAt time.Time) bool {
	c, err := e.store.Course(payload.CourseID)
	if err != nil {
		e.metrics.RecordPresentation(true)
		return true
	}
	date := payload.IntendedDate(e.local(deliveredAt))
	present := !c.HasIntake(date)
	e.metrics.RecordPresentation(present)
	return present
}
