package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/listafacil/listafacil-backend/internal/services"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	Version      string
	store        storage.Store
	orchestrator *services.Orchestrator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, store storage.Store, orchestrator *services.Orchestrator) *HealthHandler {
	return &HealthHandler{
		Version:      version,
		store:        store,
		orchestrator: orchestrator,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := fiber.Map{
		"status":  "OK",
		"service": "ListaFacil Backend",
		"version": h.Version,
	}

	doc, err := h.store.Read()
	if err != nil {
		response["status"] = "degraded"
		response["store"] = "error: " + err.Error()
		return c.JSON(response)
	}

	active := 0
	for _, s := range doc.Sessions {
		if !s.Status.IsTerminal() {
			active++
		}
	}
	response["sessions"] = fiber.Map{
		"total":  len(doc.Sessions),
		"active": active,
	}
	response["pending_timers"] = h.orchestrator.ActiveTimers()
	response["marketplace_linked"] = doc.Tokens != nil

	return c.JSON(response)
}
