// Package reminders maps course reminders onto notification requests and keeps
// the gateway's pending set consistent with the current courses.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/metrics"
	"github.com/gmsas95/asit/internal/notify"
)

const (
	breakerName = "notification-gateway"

	defaultSnoozeDelay = time.Hour
	defaultBody        = "Time to take your medication"
)

// Gateway is the notification subsystem the adapter drives
type Gateway interface {
	Authorized(ctx context.Context) (bool, error)
	// Add schedules req, replacing any request with the same ID
	Add(ctx context.Context, req notify.Request) error
	// Remove drops pending and delivered entries for ids
	Remove(ctx context.Context, ids ...string) error
	Pending(ctx context.Context) ([]notify.Request, error)
}

// Options configures an Adapter
type Options struct {
	SnoozeDelay time.Duration
	Catalog     *catalog.Catalog
	Lang        string
	Metrics     *metrics.Metrics
	Now         func() time.Time

	// BreakerFailures is the number of consecutive gateway failures that opens the breaker
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Adapter schedules and cancels reminder notifications
type Adapter struct {
	gateway     Gateway
	breaker     *gobreaker.CircuitBreaker[struct{}]
	catalog     *catalog.Catalog
	lang        string
	snoozeDelay time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an adapter over gw
func New(gw Gateway, opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SnoozeDelay <= 0 {
		opts.SnoozeDelay = defaultSnoozeDelay
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Empty()
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	a := &Adapter{
		gateway:     gw,
		catalog:     opts.Catalog,
		lang:        opts.Lang,
		snoozeDelay: opts.SnoozeDelay,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         opts.Now,
	}

	a.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.metrics.SetCircuitBreakerState(name, breakerStateValue(to))
			a.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return a
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// SnoozeDelay is the default one-shot delay for a snooze action
func (a *Adapter) SnoozeDelay() time.Duration {
	return a.snoozeDelay
}

// SnoozeID is the identifier of the one-shot request that follows a snooze.
// It differs from the daily identifier so a snooze never replaces the daily schedule.
func SnoozeID(reminderID string) string {
	return reminderID + ".snooze"
}

func (a *Adapter) call(op string, fn func() error) error {
	_, err := a.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		return nil
	}
	a.metrics.RecordSchedulingFailure()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		a.logger.Warn("notification gateway unavailable, circuit open", zap.String("op", op))
	}
	return apperrors.From(apperrors.ErrGatewayUnavailable, fmt.Errorf("%s: %w", op, err))
}

// Authorized reports whether scheduling is permitted. Gateway errors count as not authorized.
func (a *Adapter) Authorized(ctx context.Context) bool {
	var granted bool
	err := a.call("authorized", func() error {
		var err error
		granted, err = a.gateway.Authorized(ctx)
		return err
	})
	if err != nil {
		a.logger.Warn("Failed to read notification permission", zap.Error(err))
		return false
	}
	return granted
}

func (a *Adapter) content(medicationID string) (string, string) {
	return a.catalog.DisplayName(medicationID, a.lang), defaultBody
}

// DailyRequest builds the repeating request for a course reminder
func (a *Adapter) DailyRequest(c *course.Course, r course.Reminder) notify.Request {
	title, body := a.content(c.MedicationID)
	return notify.Request{
		ID:       r.ID,
		Title:    title,
		Body:     body,
		Category: notify.CategoryMedicationReminder,
		Trigger:  notify.Daily(r.Hour, r.Minute),
		Payload:  notify.Payload{CourseID: c.ID, ReminderID: r.ID},
	}
}

// Schedule registers the daily request for r. No-op without permission.
func (a *Adapter) Schedule(ctx context.Context, c *course.Course, r course.Reminder) error {
	if !a.Authorized(ctx) {
		a.logger.Debug("Notification permission not granted, skipping schedule",
			zap.String("course_id", c.ID), zap.String("reminder_id", r.ID))
		return nil
	}
	return a.add(ctx, a.DailyRequest(c, r))
}

// ScheduleOneTime registers a single request after the given delay that carries
// originalDate so a later action logs against the intended day.
func (a *Adapter) ScheduleOneTime(ctx context.Context, courseID, reminderID, medicationID string, originalDate time.Time, after time.Duration) error {
	if !a.Authorized(ctx) {
		a.logger.Debug("Notification permission not granted, skipping snooze",
			zap.String("course_id", courseID), zap.String("reminder_id", reminderID))
		return nil
	}
	if after <= 0 {
		after = a.snoozeDelay
	}

	title, body := a.content(medicationID)
	req := notify.Request{
		ID:       SnoozeID(reminderID),
		Title:    title,
		Body:     body,
		Category: notify.CategoryMedicationReminder,
		Trigger:  notify.Once(after),
		Payload:  notify.Payload{CourseID: courseID, ReminderID: reminderID}.WithOriginalDate(originalDate),
	}
	return a.add(ctx, req)
}

func (a *Adapter) add(ctx context.Context, req notify.Request) error {
	if err := a.call("add", func() error { return a.gateway.Add(ctx, req) }); err != nil {
		return err
	}
	a.metrics.RecordScheduled()
	a.logger.Debug("Reminder scheduled",
		zap.String("notification_id", req.ID),
		zap.String("course_id", req.Payload.CourseID),
		zap.String("trigger", req.Trigger.String()))
	return nil
}

func (a *Adapter) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.call("remove", func() error { return a.gateway.Remove(ctx, ids...) }); err != nil {
		return err
	}
	a.metrics.RecordCancelled(len(ids))
	return nil
}

func reminderIDs(r course.Reminder) []string {
	return []string{r.ID, SnoozeID(r.ID)}
}

// Cancel removes the daily and snooze requests of r. Allowed without permission.
func (a *Adapter) Cancel(ctx context.Context, r course.Reminder) error {
	return a.remove(ctx, reminderIDs(r))
}

// CancelAll removes every request belonging to the course's reminders
func (a *Adapter) CancelAll(ctx context.Context, c *course.Course) error {
	var ids []string
	for _, r := range c.Reminders {
		ids = append(ids, reminderIDs(r)...)
	}
	return a.remove(ctx, ids)
}

// Reconcile brings one course's requests in line with its state: the active
// reminder is scheduled while the course should notify, everything else is cancelled.
func (a *Adapter) Reconcile(ctx context.Context, c *course.Course) error {
	if !c.ShouldNotify(a.now()) {
		return a.CancelAll(ctx, c)
	}

	active, _ := c.ActiveReminder()
	var stale []string
	for _, r := range c.Reminders {
		if r.ID != active.ID {
			stale = append(stale, reminderIDs(r)...)
		}
	}
	if err := a.remove(ctx, stale); err != nil {
		return err
	}
	return a.Schedule(ctx, c, active)
}

// SyncAll reconciles the gateway against the full course set. Requests that
// already match are left alone, so repeated runs without changes are no-ops.
func (a *Adapter) SyncAll(ctx context.Context, courses []*course.Course) error {
	start := time.Now()
	defer func() { a.metrics.RecordSync(time.Since(start)) }()

	if !a.Authorized(ctx) {
		a.logger.Debug("Notification permission not granted, skipping sync")
		return nil
	}

	var pending []notify.Request
	if err := a.call("pending", func() error {
		var err error
		pending, err = a.gateway.Pending(ctx)
		return err
	}); err != nil {
		return err
	}

	pendingByID := make(map[string]notify.Request, len(pending))
	for _, p := range pending {
		pendingByID[p.ID] = p
	}

	now := a.now()
	wanted := make(map[string]notify.Request)
	keep := make(map[string]bool)

	for _, c := range courses {
		if c.ShouldNotify(now) {
			active, _ := c.ActiveReminder()
			wanted[active.ID] = a.DailyRequest(c, active)
			keep[active.ID] = true
			keep[SnoozeID(active.ID)] = true
		}
	}

	// anything pending that no course wants, including requests of deleted courses
	var removals []string
	for _, p := range pending {
		if p.Category == notify.CategoryMedicationReminder && !keep[p.ID] {
			removals = append(removals, p.ID)
		}
	}
	sort.Strings(removals)

	var errs []error
	if err := a.remove(ctx, removals); err != nil {
		errs = append(errs, err)
	}

	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	added := 0
	for _, id := range ids {
		req := wanted[id]
		if p, ok := pendingByID[id]; ok && p.Equal(req) {
			continue
		}
		if err := a.add(ctx, req); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}

	a.logger.Debug("Reminder sync finished",
		zap.Int("courses", len(courses)),
		zap.Int("scheduled", added),
		zap.Int("wanted", len(wanted)))
	return errors.Join(errs...)
}
