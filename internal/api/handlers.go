package api

import (
	"github.com/gofiber/fiber/v2"
)

// Handler holds the service dependencies for HTTP handlers
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// SetupRoutes configures all API routes with the handler
func (h *Handler) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	api.Get("/status", h.getStatus)
	api.Get("/health", h.healthCheck)
	api.Get("/metrics", h.getMetrics)

	api.Get("/config", h.getConfig)
	api.Put("/config", h.putConfig)

	api.Post("/mode", h.setMode)
	api.Post("/startstop", h.setStartStop)
	api.Post("/set_current", h.setCurrent)
}

func (h *Handler) getStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.Status())
}

func (h *Handler) healthCheck(c *fiber.Ctx) error {
	status, checks := h.service.Health(c.Context())
	code := fiber.StatusOK
	if status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

func (h *Handler) getMetrics(c *fiber.Ctx) error {
	return c.JSON(h.service.Metrics())
}

func (h *Handler) getConfig(c *fiber.Ctx) error {
	return c.JSON(h.service.Config())
}

func (h *Handler) putConfig(c *fiber.Ctx) error {
	var doc map[string]any
	if err := c.BodyParser(&doc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "invalid JSON",
		})
	}
	if err := h.service.SaveConfig(doc); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"ok": true, "restart_required": true})
}

func (h *Handler) setMode(c *fiber.Ctx) error {
	var req struct {
		Mode int `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid JSON"})
	}
	if !h.service.SetMode(req.Mode) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "mode rejected"})
	}
	return c.JSON(fiber.Map{"ok": true, "mode": req.Mode})
}

func (h *Handler) setStartStop(c *fiber.Ctx) error {
	var req struct {
		StartStop int `json:"start_stop"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid JSON"})
	}
	if !h.service.SetStartStop(req.StartStop) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "start/stop rejected"})
	}
	return c.JSON(fiber.Map{"ok": true, "start_stop": req.StartStop})
}

func (h *Handler) setCurrent(c *fiber.Ctx) error {
	var req struct {
		Amps float64 `json:"amps"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid JSON"})
	}
	if !h.service.SetCurrent(req.Amps) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "set current rejected"})
	}
	return c.JSON(fiber.Map{"ok": true, "amps": req.Amps})
}
