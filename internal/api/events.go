package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/courses"
	"github.com/gmsas95/asit/internal/intake"
)

const eventBuffer = 8

// Event is pushed to /api/events subscribers after every course change
type Event struct {
	Type    string             `json:"type"`
	Version uint64             `json:"version"`
	Courses int                `json:"courses"`
	Today   intake.DayOverview `json:"today"`
	At      time.Time          `json:"at"`
}

func (s *Server) event(kind string, snap courses.Snapshot) Event {
	return Event{
		Type:    kind,
		Version: snap.Version,
		Courses: len(snap.Courses),
		Today:   s.engine.DayOverview(s.engine.Today()),
		At:      time.Now(),
	}
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "websocket upgrade required"})
}

// handleEvents sends the current state, then one event per published snapshot
// until the client goes away.
func (s *Server) handleEvents(conn *websocket.Conn) {
	defer conn.Close()

	snapshots, unsubscribe := s.courses.Subscribe(eventBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.event("hello", s.courses.Snapshot())); err != nil {
		s.logger.Debug("Event stream write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(s.event("courses", snap)); err != nil {
				s.logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		}
	}
}
