package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/services"
	"go.uber.org/zap"
)

type HealthHandler struct {
	records  *services.HealthService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHealthHandler(records *services.HealthService, validate *validator.Validate, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{records: records, validate: validate, logger: logger}
}

// List serves both GET /health and GET /health/records.
func (h *HealthHandler) List(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.records.List(c.UserContext(), id, services.ListHealthRecordsInput{
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *HealthHandler) Dashboard(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	d, err := h.records.Dashboard(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, d)
}

func (h *HealthHandler) Get(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	r, err := h.records.Get(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, r)
}

func (h *HealthHandler) Create(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.HealthRecordInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	r, err := h.records.Create(c.UserContext(), id, in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusCreated, r)
}

func (h *HealthHandler) Update(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.HealthRecordUpdateInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	r, err := h.records.Update(c.UserContext(), id, c.Params("id"), in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, r)
}

func (h *HealthHandler) Delete(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if err := h.records.Delete(c.UserContext(), id, c.Params("id")); err != nil {
		return respondError(c, h.logger, err)
	}
	return respondMessage(c, "Health record deleted successfully")
}
