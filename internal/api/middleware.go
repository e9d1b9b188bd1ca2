package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/asit/internal/errors"
)

// rateLimit is a process-wide token bucket; the API serves a single local user
func (s *Server) rateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}

func (s *Server) requestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				c.Status(fe.Code)
			}
		}
		s.metrics.RecordHTTPRequest(c.Method(), c.Response().StatusCode(), time.Since(start))
		return err
	}
}

// statusFor maps an AppError code onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrCourseNotFound),
		errors.Is(err, apperrors.ErrIntakeNotFound),
		errors.Is(err, apperrors.ErrReminderNotFound),
		errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrDuplicateIntake),
		errors.Is(err, apperrors.ErrNoIntakeHistory):
		return fiber.StatusConflict
	case errors.Is(err, apperrors.ErrCourseInvalid),
		errors.Is(err, apperrors.ErrIntakeInvalid),
		errors.Is(err, apperrors.ErrReminderInvalid),
		errors.Is(err, apperrors.ErrDecodeFailed),
		errors.Is(err, apperrors.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnsupportedVersion):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrGatewayUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as {"error", "code"}. Server-side failures are logged.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperrors.GetCode(err),
	})
}
