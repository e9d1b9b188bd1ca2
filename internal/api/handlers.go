package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/course"
	apperrors "github.com/gmsas95/asit/internal/errors"
	"github.com/gmsas95/asit/internal/intake"
	"github.com/gmsas95/asit/internal/notify"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"courses":     len(s.courses.Courses()),
		"medications": s.catalog.Len(),
		"timestamp":   time.Now().Unix(),
	})
}

// ==================== Catalog ====================

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	return c.JSON(s.catalog.Medications())
}

func (s *Server) handleListPackages(c *fiber.Ctx) error {
	packages := s.engine.AvailablePackages(c.Params("medicationId"))
	if packages == nil {
		return c.JSON([]any{})
	}
	return c.JSON(packages)
}

func (s *Server) handleListDosages(c *fiber.Ctx) error {
	dosages := s.engine.AvailableDosages(c.Params("medicationId"), c.Params("packageId"))
	if dosages == nil {
		return c.JSON([]any{})
	}
	return c.JSON(dosages)
}

// ==================== Courses ====================

func (s *Server) handleListCourses(c *fiber.Ctx) error {
	if c.QueryBool("active") {
		date, err := parseDate(c.Query("date"), s.engine.Location(), s.engine.Today())
		if err != nil {
			return s.respondError(c, err)
		}
		return c.JSON(s.engine.ActiveCoursesOn(date))
	}
	return c.JSON(s.courses.Courses())
}

func (s *Server) handleGetCourse(c *fiber.Ctx) error {
	crs, err := s.courses.Course(c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(crs)
}

func (s *Server) courseDates(req courseRequest) (time.Time, time.Time, error) {
	loc := s.engine.Location()
	start, err := parseDate(req.StartDate, loc, time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(req.EndDate, loc, time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (s *Server) handleCreateCourse(c *fiber.Ctx) error {
	var req courseRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	start, end, err := s.courseDates(req)
	if err != nil {
		return s.respondError(c, err)
	}

	crs := course.New(req.MedicationID, req.TakingYear, start, end)
	crs.IsCompleted = req.IsCompleted
	crs.IsPaused = req.IsPaused

	added, err := s.courses.AddCourse(c.UserContext(), crs)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

func (s *Server) handleUpdateCourse(c *fiber.Ctx) error {
	current, err := s.courses.Course(c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}

	req := courseRequest{
		MedicationID: current.MedicationID,
		TakingYear:   current.TakingYear,
		StartDate:    course.DayKey(current.StartDate),
		EndDate:      course.DayKey(current.EndDate),
		IsCompleted:  current.IsCompleted,
		IsPaused:     current.IsPaused,
	}
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	start, end, err := s.courseDates(req)
	if err != nil {
		return s.respondError(c, err)
	}

	current.MedicationID = req.MedicationID
	current.TakingYear = req.TakingYear
	current.StartDate = start
	current.EndDate = end
	current.IsCompleted = req.IsCompleted
	current.IsPaused = req.IsPaused

	updated, err := s.courses.UpdateCourse(c.UserContext(), current)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) handleDeleteCourse(c *fiber.Ctx) error {
	if err := s.courses.DeleteCourse(c.UserContext(), c.Params("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleExportCourse(c *fiber.Ctx) error {
	crs, err := s.courses.Course(c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	data, err := s.codec.Export(crs)
	if err != nil {
		return s.respondError(c, err)
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, s.codec.FileName(crs)))
	c.Type("json")
	return c.Send(data)
}

func (s *Server) handleImportCourse(c *fiber.Ctx) error {
	crs, err := s.codec.Import(c.Body())
	if err != nil {
		s.logger.Warn("Import rejected", zap.Error(err))
		return s.respondError(c, err)
	}
	added, err := s.courses.ImportCourse(c.UserContext(), crs)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

// ==================== Intakes ====================

func (s *Server) queryDate(c *fiber.Ctx) (time.Time, error) {
	return parseDate(c.Query("date"), s.engine.Location(), s.engine.Today())
}

func (s *Server) handleIntakeStatus(c *fiber.Ctx) error {
	date, err := s.queryDate(c)
	if err != nil {
		return s.respondError(c, err)
	}
	status, err := s.engine.Status(c.Params("id"), date)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"courseId": c.Params("id"),
		"date":     course.DayKey(date),
		"status":   status,
	})
}

func (s *Server) handleQuickConfirm(c *fiber.Ctx) error {
	date, err := s.queryDate(c)
	if err != nil {
		return s.respondError(c, err)
	}
	in, created, err := s.engine.QuickConfirm(c.UserContext(), c.Params("id"), date)
	if err != nil {
		return s.respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"intake": in, "created": created})
}

func (s *Server) handlePrefill(c *fiber.Ctx) error {
	date, err := s.queryDate(c)
	if err != nil {
		return s.respondError(c, err)
	}
	p, err := s.engine.Prefill(c.Params("id"), date)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) handleLastIntake(c *fiber.Ctx) error {
	in, ok, err := s.engine.LastIntake(c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	if !ok {
		return s.respondError(c, apperrors.Withf(apperrors.ErrNoIntakeHistory, "%s", c.Params("id")))
	}
	return c.JSON(in)
}

func (s *Server) handleSaveIntake(c *fiber.Ctx) error {
	var req intakeRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	date, err := parseDate(req.Date, s.engine.Location(), s.engine.Today())
	if err != nil {
		return s.respondError(c, err)
	}

	saved, err := s.engine.SaveIntake(c.UserContext(), c.Params("id"), intake.IntakeForm{
		ID:        req.ID,
		Date:      date,
		PackageID: req.PackageID,
		Dosage:    req.Dosage,
		Comment:   req.Comment,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(saved)
}

func (s *Server) handleDeleteIntake(c *fiber.Ctx) error {
	if err := s.courses.DeleteIntake(c.UserContext(), c.Params("id"), c.Params("intakeId")); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Reminders ====================

func (s *Server) handleAddReminder(c *fiber.Ctx) error {
	var req reminderRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	r := course.NewReminder(req.Hour, req.Minute)
	r.Active = req.IsActive

	added, err := s.courses.AddReminder(c.UserContext(), c.Params("id"), r)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

func (s *Server) handleUpdateReminder(c *fiber.Ctx) error {
	var req reminderRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	r, err := s.courses.UpdateReminder(c.UserContext(), c.Params("id"), c.Params("reminderId"), req.Hour, req.Minute)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(r)
}

func (s *Server) handleActivateReminder(c *fiber.Ctx) error {
	if err := s.courses.ActivateReminder(c.UserContext(), c.Params("id"), c.Params("reminderId")); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteReminder(c *fiber.Ctx) error {
	if err := s.courses.DeleteReminder(c.UserContext(), c.Params("id"), c.Params("reminderId")); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Days ====================

func (s *Server) handleDayOverview(c *fiber.Ctx) error {
	raw := c.Params("date")
	if raw == "today" {
		raw = ""
	}
	date, err := parseDate(raw, s.engine.Location(), s.engine.Today())
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(s.engine.DayOverview(date))
}

// ==================== Notifications ====================

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	if s.center == nil {
		return s.respondError(c, apperrors.Withf(apperrors.ErrGatewayUnavailable, "no notification center"))
	}
	ctx := c.UserContext()
	authorized, err := s.center.Authorized(ctx)
	if err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrGatewayUnavailable, err))
	}
	pending, err := s.center.Pending(ctx)
	if err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrGatewayUnavailable, err))
	}
	delivered, err := s.center.Delivered(ctx)
	if err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrGatewayUnavailable, err))
	}
	return c.JSON(fiber.Map{
		"authorized": authorized,
		"pending":    pending,
		"delivered":  delivered,
	})
}

func (s *Server) handleSetAuthorization(c *fiber.Ctx) error {
	if s.center == nil {
		return s.respondError(c, apperrors.Withf(apperrors.ErrGatewayUnavailable, "no notification center"))
	}
	var req authorizationRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	if err := s.center.SetAuthorized(c.UserContext(), req.Authorized); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrGatewayUnavailable, err))
	}
	// granting permission schedules what was skipped while it was denied
	if req.Authorized && s.syncer != nil {
		if err := s.syncer.SyncAll(c.UserContext(), s.courses.Courses()); err != nil {
			s.logger.Warn("Sync after authorization failed", zap.Error(err))
		}
	}
	return c.JSON(fiber.Map{"authorized": req.Authorized})
}

func (s *Server) handleNotificationAction(c *fiber.Ctx) error {
	var resp notify.Response
	if err := c.BodyParser(&resp); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	if resp.ActionID == "" {
		return s.respondError(c, apperrors.Withf(apperrors.ErrBadRequest, "actionId is required"))
	}
	res, err := s.engine.HandleAction(c.UserContext(), resp)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleShouldPresent(c *fiber.Ctx) error {
	var req presentRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, apperrors.From(apperrors.ErrBadRequest, err))
	}
	if req.DeliveredAt.IsZero() {
		req.DeliveredAt = s.engine.Today()
	}
	return c.JSON(fiber.Map{"present": s.engine.ShouldPresent(req.Payload, req.DeliveredAt)})
}

func (s *Server) handleSync(c *fiber.Ctx) error {
	if s.syncer == nil {
		return s.respondError(c, apperrors.Withf(apperrors.ErrGatewayUnavailable, "no scheduler"))
	}
	list := s.courses.Courses()
	if err := s.syncer.SyncAll(c.UserContext(), list); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"synced": len(list)})
}
