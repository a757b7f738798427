package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/events"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/services"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// UserHandler serves the doctor directory, doctors' patient views and
// admin user management.
type UserHandler struct {
	users    *services.UserService
	health   *services.HealthService
	audit    events.Reader
	validate *validator.Validate
	logger   *zap.Logger
}

func NewUserHandler(users *services.UserService, health *services.HealthService, audit events.Reader, validate *validator.Validate, logger *zap.Logger) *UserHandler {
	if audit == nil {
		audit = events.Nop{}
	}
	return &UserHandler{users: users, health: health, audit: audit, validate: validate, logger: logger}
}

func (h *UserHandler) Doctors(c *fiber.Ctx) error {
	list, err := h.users.Doctors(c.UserContext(), services.DoctorFilter{
		Specialization: c.Query("specialization"),
		Name:           c.Query("name"),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *UserHandler) Doctor(c *fiber.Ctx) error {
	d, err := h.users.Doctor(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, d)
}

func (h *UserHandler) Patients(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.users.Patients(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *UserHandler) VisitedPatients(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.users.VisitedPatients(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *UserHandler) Patient(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	p, err := h.users.Patient(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, p)
}

func (h *UserHandler) PatientRecords(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.health.ForPatient(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

// ListUsers accepts an optional role query parameter.
func (h *UserHandler) ListUsers(c *fiber.Ctx) error {
	return h.listByRole(c, models.Role(c.Query("role")))
}

func (h *UserHandler) ListDoctors(c *fiber.Ctx) error {
	return h.listByRole(c, models.RoleDoctor)
}

func (h *UserHandler) ListPatients(c *fiber.Ctx) error {
	return h.listByRole(c, models.RolePatient)
}

func (h *UserHandler) listByRole(c *fiber.Ctx, role models.Role) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	list, err := h.users.ListUsers(c.UserContext(), id, role)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respondList(c, list)
}

func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	u, err := h.users.GetUser(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, u)
}

func (h *UserHandler) CreateUser(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	var in services.CreateUserInput
	if err := bind(c, h.validate, &in); err != nil {
		return respondError(c, h.logger, err)
	}
	u, err := h.users.CreateUser(c.UserContext(), id, in)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusCreated, u)
}

func (h *UserHandler) DeleteUser(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if err := h.users.DeleteUser(c.UserContext(), id, c.Params("id")); err != nil {
		return respondError(c, h.logger, err)
	}
	return respondMessage(c, "User deleted successfully")
}

// AppointmentEvents returns the audit trail of one appointment.
func (h *UserHandler) AppointmentEvents(c *fiber.Ctx) error {
	appointmentID := c.Params("id")
	if _, err := bson.ObjectIDFromHex(appointmentID); err != nil {
		return respondError(c, h.logger, services.Validation("INVALID_ID", "Invalid appointment ID format"))
	}
	list, err := h.audit.ListByAppointment(c.UserContext(), appointmentID)
	if err != nil {
		return respondError(c, h.logger, services.Internal(err, "failed to load appointment events"))
	}
	return respondList(c, list)
}
