package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/services"
	"go.uber.org/zap"
)

type AppointmentHandler struct {
	appointments *services.AppointmentService
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewAppointmentHandler(appointments *services.AppointmentService, validate *validator.Validate, logger *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{appointments: appointments, validate: validate, logger: logger}
}

// Create books a slot for the calling patient.
func (h *AppointmentHandler) Create(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.CreateAppointmentInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	a, err := h.appointments.Create(c.UserContext(), id, in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusCreated, a)
}

func (h *AppointmentHandler) List(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.appointments.List(c.UserContext(), id, services.ListAppointmentsInput{
		Status:    c.Query("status"),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *AppointmentHandler) Get(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	a, err := h.appointments.Get(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, a)
}

func (h *AppointmentHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.UpdateStatusInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	a, err := h.appointments.UpdateStatus(c.UserContext(), id, c.Params("id"), in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, a)
}

func (h *AppointmentHandler) MarkVisited(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.MarkVisitedInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	a, err := h.appointments.MarkVisited(c.UserContext(), id, c.Params("id"), in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, a)
}

// Cancel is routed on DELETE; the appointment is kept with status cancelled.
func (h *AppointmentHandler) Cancel(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	a, err := h.appointments.Cancel(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(Response{Success: true, Data: a, Message: "Appointment cancelled successfully"})
}

func (h *AppointmentHandler) Availability(c *fiber.Ctx) error {
	av, err := h.appointments.Availability(c.UserContext(), c.Params("id"), c.Query("date"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, av)
}
