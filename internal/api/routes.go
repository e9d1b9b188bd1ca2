package api

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(s.requestMetrics())

	s.app.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	s.app.Post("/api/auth/login", s.rateLimit(), s.handleLogin)

	api := s.app.Group("/api", s.rateLimit(), s.authMiddleware())

	api.Get("/events", upgradeOnly, websocket.New(s.handleEvents))

	api.Get("/catalog", s.handleListMedications)
	api.Get("/catalog/:medicationId/packages", s.handleListPackages)
	api.Get("/catalog/:medicationId/packages/:packageId/dosages", s.handleListDosages)

	api.Get("/courses", s.handleListCourses)
	api.Post("/courses", s.handleCreateCourse)
	api.Post("/courses/import", s.handleImportCourse)
	api.Get("/courses/:id", s.handleGetCourse)
	api.Put("/courses/:id", s.handleUpdateCourse)
	api.Delete("/courses/:id", s.handleDeleteCourse)
	api.Get("/courses/:id/export", s.handleExportCourse)

	api.Get("/courses/:id/status", s.handleIntakeStatus)
	api.Post("/courses/:id/confirm", s.handleQuickConfirm)
	api.Get("/courses/:id/prefill", s.handlePrefill)
	api.Get("/courses/:id/intakes/last", s.handleLastIntake)
	api.Post("/courses/:id/intakes", s.handleSaveIntake)
	api.Delete("/courses/:id/intakes/:intakeId", s.handleDeleteIntake)

	api.Post("/courses/:id/reminders", s.handleAddReminder)
	api.Put("/courses/:id/reminders/:reminderId", s.handleUpdateReminder)
	api.Post("/courses/:id/reminders/:reminderId/activate", s.handleActivateReminder)
	api.Delete("/courses/:id/reminders/:reminderId", s.handleDeleteReminder)

	api.Get("/days/:date", s.handleDayOverview)

	api.Get("/notifications", s.handleListNotifications)
	api.Put("/notifications/authorization", s.handleSetAuthorization)
	api.Post("/notifications/actions", s.handleNotificationAction)
	api.Post("/notifications/present", s.handleShouldPresent)
	api.Post("/notifications/sync", s.handleSync)
}
