package notify

import (
	"fmt"
	"time"
)

const (
	// CategoryMedicationReminder groups the reminder actions
	CategoryMedicationReminder = "MEDICATION_REMINDER"

	ActionTaken  = "TAKEN_ACTION"
	ActionSnooze = "SNOOZE_ONE_HOUR"
	// ActionDefault is reported when the notification body itself was opened
	ActionDefault = "DEFAULT_ACTION"
	// ActionDismiss is reported when the notification was dismissed
	ActionDismiss = "DISMISS_ACTION"
)

// Trigger is either a repeating daily time of day or a one-shot delay
type Trigger struct {
	Hour    int           `json:"hour,omitempty"`
	Minute  int           `json:"minute,omitempty"`
	Repeats bool          `json:"repeats"`
	After   time.Duration `json:"after,omitempty"`
}

// Daily returns a repeating trigger at hour:minute
func Daily(hour, minute int) Trigger {
	return Trigger{Hour: hour, Minute: minute, Repeats: true}
}

// Once returns a one-shot trigger firing after d
func Once(d time.Duration) Trigger {
	return Trigger{After: d}
}

func (t Trigger) String() string {
	if t.Repeats {
		return fmt.Sprintf("daily %02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("once after %s", t.After)
}

// Payload is the opaque bag attached to a request and echoed back on delivery
type Payload struct {
	CourseID   string `json:"courseId"`
	ReminderID string `json:"reminderId"`
	// OriginalDate is epoch seconds, set only for snoozed one-shot requests
	OriginalDate *int64 `json:"originalDate,omitempty"`
}

// WithOriginalDate returns a copy of p carrying t as the intended day
func (p Payload) WithOriginalDate(t time.Time) Payload {
	secs := t.Unix()
	p.OriginalDate = &secs
	return p
}

// IntendedDate returns the original date when present, otherwise fallback
func (p Payload) IntendedDate(fallback time.Time) time.Time {
	if p.OriginalDate == nil {
		return fallback
	}
	return time.Unix(*p.OriginalDate, 0).In(fallback.Location())
}

// Request is one scheduled local notification. Adding a request with an
// existing ID replaces it.
type Request struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Category string  `json:"category"`
	Trigger  Trigger `json:"trigger"`
	Payload  Payload `json:"payload"`
}

// Equal compares every field including the optional original date
func (r Request) Equal(o Request) bool {
	if r.ID != o.ID || r.Title != o.Title || r.Body != o.Body || r.Category != o.Category {
		return false
	}
	if r.Trigger != o.Trigger {
		return false
	}
	if r.Payload.CourseID != o.Payload.CourseID || r.Payload.ReminderID != o.Payload.ReminderID {
		return false
	}
	a, b := r.Payload.OriginalDate, o.Payload.OriginalDate
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if r.Trigger.Repeats {
		if r.Trigger.Hour < 0 || r.Trigger.Hour > 23 || r.Trigger.Minute < 0 || r.Trigger.Minute > 59 {
			return fmt.Errorf("invalid daily trigger %s", r.Trigger)
		}
		return nil
	}
	if r.Trigger.After <= 0 {
		return fmt.Errorf("one-shot trigger needs a positive delay")
	}
	return nil
}

// Delivery is a request that has fired
type Delivery struct {
	Request     Request   `json:"request"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Response is the user's reaction to a delivered notification. DeliveredAt is
// when the notification was shown, At when the user acted on it.
type Response struct {
	ActionID    string    `json:"actionId"`
	Payload     Payload   `json:"payload"`
	DeliveredAt time.Time `json:"deliveredAt"`
	At          time.Time `json:"at"`
}
