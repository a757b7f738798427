package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/events"
	"github.com/mediconnect/backend/media"
	"github.com/mediconnect/backend/middleware"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/services"
	"go.uber.org/zap"
)

// TokenService verifies and revokes bearer tokens. auth.TokenManager
// satisfies it.
type TokenService interface {
	middleware.Verifier
	Revoker
}

// Deps is everything the HTTP surface needs.
type Deps struct {
	Tokens       TokenService
	Users        *services.UserService
	Appointments *services.AppointmentService
	Health       *services.HealthService
	Media        media.Store
	Audit        events.Reader
	Limiter      middleware.Counter
	RateLimit    middleware.RateLimitConfig
	Logger       *zap.Logger
}

// Mount registers every route under api.
func Mount(api fiber.Router, d Deps) {
	validate := validator.New()

	authH := NewAuthHandler(d.Users, d.Tokens, d.Logger)
	apptH := NewAppointmentHandler(d.Appointments, validate, d.Logger)
	userH := NewUserHandler(d.Users, d.Health, d.Audit, validate, d.Logger)
	healthH := NewHealthHandler(d.Health, validate, d.Logger)
	profileH := NewProfileHandler(d.Users, d.Media, d.Logger)

	api.Use(middleware.RateLimiter(d.Limiter, d.RateLimit, d.Logger))
	protect := middleware.Authenticate(d.Tokens, d.Logger)

	// Pictures are referenced from <img> tags and served without a token.
	api.Get("/media/profile-pics/:filename", profileH.Picture)

	authGroup := api.Group("/auth", protect)
	authGroup.Get("/me", authH.Me)
	authGroup.Get("/verify", authH.Verify)
	authGroup.Post("/logout", authH.Logout)

	doctors := api.Group("/doctors", protect)
	doctors.Get("/", userH.Doctors)
	doctors.Get("/:id", userH.Doctor)
	doctors.Get("/:id/availability", apptH.Availability)

	appointments := api.Group("/appointments", protect)
	appointments.Post("/", middleware.RequireRole(models.RolePatient), apptH.Create)
	appointments.Get("/", apptH.List)
	appointments.Get("/:id", apptH.Get)
	// The services check the doctor role after the id, so a malformed id is 400 for everyone.
	appointments.Put("/:id/visited", apptH.MarkVisited)
	appointments.Put("/:id", apptH.UpdateStatus)
	appointments.Delete("/:id", apptH.Cancel)

	patients := api.Group("/patients", protect, middleware.RequireRole(models.RoleDoctor))
	patients.Get("/", userH.Patients)
	patients.Get("/visited", userH.VisitedPatients)
	patients.Get("/:id", userH.Patient)
	patients.Get("/:id/records", userH.PatientRecords)

	profile := api.Group("/profile", protect)
	profile.Get("/me", profileH.Me)
	profile.Post("/me/picture", profileH.UploadPicture)

	admin := api.Group("/admin", protect, middleware.RequireRole(models.RoleAdmin))
	admin.Get("/users", userH.ListUsers)
	admin.Post("/users", userH.CreateUser)
	admin.Get("/users/:id", userH.GetUser)
	admin.Delete("/users/:id", userH.DeleteUser)
	admin.Get("/doctors", userH.ListDoctors)
	admin.Get("/patients", userH.ListPatients)
	admin.Get("/appointments/:id/events", userH.AppointmentEvents)

	health := api.Group("/health", protect)
	health.Get("/", healthH.List)
	health.Get("/records", healthH.List)
	health.Get("/dashboard", healthH.Dashboard)
	health.Post("/record", healthH.Create)
	health.Put("/records/:id", healthH.Update)
	health.Delete("/records/:id", healthH.Delete)
	health.Get("/:id", healthH.Get)
}
