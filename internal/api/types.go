package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/course"
	"github.com/gmsas95/asit/internal/courses"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/intake"
	"github.com/gmsas95/asit/internal/metrics"
	"github.com/gmsas95/asit/internal/notify"
	"github.com/gmsas95/asit/internal/transfer"
)

// NotificationCenter is the local notification state the API exposes
type NotificationCenter interface {
	Authorized(ctx context.Context) (bool, error)
	SetAuthorized(ctx context.Context, granted bool) error
	Pending(ctx context.Context) ([]notify.Request, error)
	Delivered(ctx context.Context) ([]notify.Delivery, error)
}

// Syncer rebuilds scheduled reminders from the course collection
type Syncer interface {
	SyncAll(ctx context.Context, courses []*course.Course) error
}

// Deps are the services the server routes to. Center and Syncer may be nil.
type Deps struct {
	Config  *config.Config
	Courses *courses.Manager
	Engine  *intake.Engine
	Codec   *transfer.Codec
	Catalog *catalog.Catalog
	Center  NotificationCenter
	Syncer  Syncer
	Metrics *metrics.Metrics
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	courses *courses.Manager
	engine  *intake.Engine
	codec   *transfer.Codec
	catalog *catalog.Catalog
	center  NotificationCenter
	syncer  Syncer
	metrics *metrics.Metrics
	limiter *rate.Limiter
	logger  *zap.Logger
}

type courseRequest struct {
	MedicationID string            `json:"medicationId"`
	TakingYear   course.TakingYear `json:"takingYear"`
	StartDate    string            `json:"startDate"`
	EndDate      string            `json:"endDate"`
	IsCompleted  bool              `json:"isCompleted"`
	IsPaused     bool              `json:"isPaused"`
}

type intakeRequest struct {
	ID        string         `json:"id"`
	Date      string         `json:"date"`
	PackageID string         `json:"packageId"`
	Dosage    catalog.Dosage `json:"dosage"`
	Comment   string         `json:"comment"`
}

type reminderRequest struct {
	Hour     int  `json:"hour"`
	Minute   int  `json:"minute"`
	IsActive bool `json:"isActive"`
}

type presentRequest struct {
	Payload     notify.Payload `json:"payload"`
	DeliveredAt time.Time      `json:"deliveredAt"`
}

type authorizationRequest struct {
	Authorized bool `json:"authorized"`
}

// parseDate accepts yyyy-MM-dd or RFC 3339. Empty means fallback.
func parseDate(s string, loc *time.Location, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	if t, err := course.ParseDay(s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperrors.Withf(apperrors.ErrBadRequest, "invalid date %q", s)
	}
	return t.In(loc), nil
}
