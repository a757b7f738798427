package services

import (
	"context"
	"strings"
	"time"

	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/cache"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/store"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var errUserNotFound = NotFound("USER_NOT_FOUND", "User not found")

const directoryTTL = time.Minute

// DirectoryCache holds doctor directory listings. cache.Cache satisfies it.
type DirectoryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Clear(ctx context.Context) error
}

type DoctorFilter struct {
	Specialization string
	Name           string
}

type DoctorListing struct {
	ID             bson.ObjectID `json:"id"`
	Name           string        `json:"name"`
	Specialization string        `json:"specialization"`
	Gender         string        `json:"gender,omitempty"`
	PatientsCount  int           `json:"patientsCount"`
}

// UserDetail is a user record together with its profile, if one exists.
type UserDetail struct {
	*models.User
	Profile *models.Profile `json:"profile"`
}

type CreateUserInput struct {
	Name             string                   `json:"name" validate:"required,min=2,max=100"`
	Email            string                   `json:"email" validate:"required,email"`
	Phone            string                   `json:"phone" validate:"max=30"`
	Role             models.Role              `json:"role" validate:"required,oneof=patient doctor admin"`
	DateOfBirth      string                   `json:"dateOfBirth"`
	Gender           string                   `json:"gender" validate:"omitempty,oneof=male female other prefer-not-to-say"`
	Specialization   string                   `json:"specialization" validate:"required_if=Role doctor"`
	Height           float64                  `json:"height" validate:"required_if=Role patient,gte=0"`
	Weight           float64                  `json:"weight" validate:"required_if=Role patient,gte=0"`
	EmergencyContact *models.EmergencyContact `json:"emergencyContact"`
}

// User builds the record described by the input.
func (in CreateUserInput) User(now time.Time) (*models.User, error) {
	u := &models.User{
		ID:        bson.NewObjectID(),
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Role:      in.Role,
		Gender:    in.Gender,
		CreatedAt: now,
	}
	if in.DateOfBirth != "" {
		dob, err := models.ParseCalendarDate(in.DateOfBirth)
		if err != nil {
			return nil, Validation("INVALID_DATE", "Invalid dateOfBirth, expected YYYY-MM-DD")
		}
		u.DateOfBirth = &dob
	}
	switch in.Role {
	case models.RoleDoctor:
		u.Doctor = &models.DoctorAttributes{Specialization: in.Specialization}
	case models.RolePatient:
		u.Patient = &models.PatientAttributes{
			Height:           in.Height,
			Weight:           in.Weight,
			EmergencyContact: in.EmergencyContact,
		}
	}
	u.Normalize()
	if err := u.Validate(); err != nil {
		var fe *models.FieldError
		if errors.As(err, &fe) {
			e := Validation("VALIDATION_ERROR", fe.Message)
			e.Details = []map[string]string{{"field": fe.Field, "message": fe.Message}}
			return nil, e
		}
		return nil, Validation("VALIDATION_ERROR", err.Error())
	}
	return u, nil
}

// UserService covers the doctor directory, doctors' patient views, the
// caller's profile and admin user management.
type UserService struct {
	users        UserRepository
	profiles     ProfileRepository
	appointments AppointmentRepository
	directory    DirectoryCache
	logger       *zap.Logger
	now          func() time.Time
}

// NewUserService wires the service. directory may be nil.
func NewUserService(users UserRepository, profiles ProfileRepository, appointments AppointmentRepository, directory DirectoryCache, logger *zap.Logger) *UserService {
	return &UserService{
		users:        users,
		profiles:     profiles,
		appointments: appointments,
		directory:    directory,
		logger:       logger,
		now:          time.Now,
	}
}

func directoryKey(f DoctorFilter) string {
	return "doctors:" + strings.ToLower(strings.TrimSpace(f.Specialization)) + ":" + strings.ToLower(strings.TrimSpace(f.Name))
}

// Doctors lists doctors sorted by name, filtered case-insensitively.
func (s *UserService) Doctors(ctx context.Context, f DoctorFilter) ([]DoctorListing, error) {
	key := directoryKey(f)
	if s.directory != nil {
		var cached []DoctorListing
		err := s.directory.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("failed to read doctor directory cache", zap.Error(err))
		}
	}

	doctors, err := s.users.Find(ctx, models.UserFilter{
		Role:           models.RoleDoctor,
		Specialization: strings.TrimSpace(f.Specialization),
		Name:           strings.TrimSpace(f.Name),
	})
	if err != nil {
		return nil, Internal(err, "failed to list doctors")
	}
	out := make([]DoctorListing, 0, len(doctors))
	for _, d := range doctors {
		attrs, _ := d.Attributes().(models.DoctorAttributes)
		out = append(out, DoctorListing{
			ID:             d.ID,
			Name:           d.Name,
			Specialization: attrs.Specialization,
			Gender:         d.Gender,
			PatientsCount:  attrs.PatientsCount,
		})
	}

	if s.directory != nil {
		if err := s.directory.Set(ctx, key, out, directoryTTL); err != nil {
			s.logger.Warn("failed to cache doctor directory", zap.Error(err))
		}
	}
	return out, nil
}

func (s *UserService) Doctor(ctx context.Context, id string) (*UserDetail, error) {
	doctorID, err := parseID(id, "INVALID_DOCTOR_ID", "Invalid doctor ID format")
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, doctorID, models.RoleDoctor, errDoctorNotFound)
}

func (s *UserService) Patients(ctx context.Context, caller auth.Identity) ([]*models.User, error) {
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Access denied. Only doctors can view patients")
	}
	patients, err := s.users.Find(ctx, models.UserFilter{Role: models.RolePatient})
	if err != nil {
		return nil, Internal(err, "failed to list patients")
	}
	return patients, nil
}

// VisitedPatients lists the patients with a visited, confirmed or completed
// appointment with the calling doctor.
func (s *UserService) VisitedPatients(ctx context.Context, caller auth.Identity) ([]*models.User, error) {
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Access denied. Only doctors can view patients")
	}
	doctorID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	appointments, err := s.appointments.Find(ctx, models.AppointmentFilter{
		DoctorID:          &doctorID,
		VisitedOrStatuses: []models.AppointmentStatus{models.StatusConfirmed, models.StatusCompleted},
	})
	if err != nil {
		return nil, Internal(err, "failed to load doctor appointments")
	}
	var ids idSet
	for _, a := range appointments {
		ids.add(a.Patient)
	}
	if len(ids.ids) == 0 {
		return []*models.User{}, nil
	}
	patients, err := s.users.Find(ctx, models.UserFilter{Role: models.RolePatient, IDs: ids.ids})
	if err != nil {
		return nil, Internal(err, "failed to load patients")
	}
	return patients, nil
}

func (s *UserService) Patient(ctx context.Context, caller auth.Identity, id string) (*UserDetail, error) {
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Access denied. Only doctors can view patients")
	}
	patientID, err := parseID(id, "INVALID_PATIENT_ID", "Invalid patient ID format")
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, patientID, models.RolePatient, errPatientNotFound)
}

// Profile returns the caller's profile, creating it from the user record on
// first access.
func (s *UserService) Profile(ctx context.Context, caller auth.Identity) (*models.Profile, error) {
	userID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	p, err := s.profiles.FindByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, Internal(err, "failed to load profile")
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, errUserNotFound, "failed to load user")
	}
	p = models.NewProfileFor(u, s.now().UTC())
	p.ID = bson.NewObjectID()
	if err := s.profiles.Create(ctx, p); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, Internal(err, "failed to create profile")
		}
		// A concurrent request created it first.
		if p, err = s.profiles.FindByUser(ctx, userID); err != nil {
			return nil, Internal(err, "failed to load profile")
		}
	}
	return p, nil
}

// SetPicture records the URL of the caller's uploaded picture.
func (s *UserService) SetPicture(ctx context.Context, caller auth.Identity, url string) (*models.Profile, error) {
	p, err := s.Profile(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.SetPicture(ctx, p.User, url); err != nil {
		return nil, fromStore(err, NotFound("PROFILE_NOT_FOUND", "Profile not found"), "failed to update profile picture")
	}
	p.PictureURL = url
	return p, nil
}

// Me returns the caller's user record.
func (s *UserService) Me(ctx context.Context, caller auth.Identity) (*models.User, error) {
	id, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, errUserNotFound, "failed to load user")
	}
	return u, nil
}

// ListUsers returns every non-admin user, optionally restricted to role.
func (s *UserService) ListUsers(ctx context.Context, caller auth.Identity, role models.Role) ([]*models.User, error) {
	if !auth.IsRole(caller, models.RoleAdmin) {
		return nil, Forbidden("Access denied. Admin only")
	}
	if role != "" && !role.Valid() {
		return nil, Validation("INVALID_ROLE", "Role must be one of: patient, doctor, admin")
	}
	users, err := s.users.Find(ctx, models.UserFilter{Role: role})
	if err != nil {
		return nil, Internal(err, "failed to list users")
	}
	if role == models.RoleAdmin {
		return users, nil
	}
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u.Role != models.RoleAdmin {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) GetUser(ctx context.Context, caller auth.Identity, id string) (*UserDetail, error) {
	if !auth.IsRole(caller, models.RoleAdmin) {
		return nil, Forbidden("Access denied. Admin only")
	}
	userID, err := parseID(id, "INVALID_ID", "Invalid user ID format")
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, userID, "", errUserNotFound)
}

func (s *UserService) CreateUser(ctx context.Context, caller auth.Identity, in CreateUserInput) (*models.User, error) {
	if !auth.IsRole(caller, models.RoleAdmin) {
		return nil, Forbidden("Access denied. Admin only")
	}
	return s.Register(ctx, in)
}

// Register creates a user and its profile without an authorization check.
// It backs admin creation and the operator CLI.
func (s *UserService) Register(ctx context.Context, in CreateUserInput) (*models.User, error) {
	now := s.now().UTC()
	u, err := in.User(now)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, Conflict("EMAIL_EXISTS", "User with this email already exists")
		}
		return nil, Internal(err, "failed to create user")
	}

	p := models.NewProfileFor(u, now)
	p.ID = bson.NewObjectID()
	if err := s.profiles.Create(ctx, p); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		s.logger.Warn("failed to create profile for new user",
			zap.Error(err),
			zap.String("user_id", u.ID.Hex()))
	}
	if u.Role == models.RoleDoctor {
		s.invalidateDirectory(ctx)
	}
	return u, nil
}

// DeleteUser removes a non-admin user and its profile.
func (s *UserService) DeleteUser(ctx context.Context, caller auth.Identity, id string) error {
	if !auth.IsRole(caller, models.RoleAdmin) {
		return Forbidden("Access denied. Admin only")
	}
	userID, err := parseID(id, "INVALID_ID", "Invalid user ID format")
	if err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fromStore(err, errUserNotFound, "failed to load user")
	}
	if u.Role == models.RoleAdmin {
		return Validation("CANNOT_DELETE_ADMIN", "Cannot delete admin users")
	}

	if err := s.profiles.DeleteByUser(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Internal(err, "failed to delete profile")
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return fromStore(err, errUserNotFound, "failed to delete user")
	}
	s.logger.Info("user deleted",
		zap.String("user_id", userID.Hex()),
		zap.String("role", string(u.Role)),
		zap.String("deleted_by", caller.ID))
	if u.Role == models.RoleDoctor {
		s.invalidateDirectory(ctx)
	}
	return nil
}

func (s *UserService) detail(ctx context.Context, id bson.ObjectID, role models.Role, notFound *Error) (*UserDetail, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, notFound, "failed to load user")
	}
	if role != "" && u.Role != role {
		return nil, notFound
	}
	d := &UserDetail{User: u}
	p, err := s.profiles.FindByUser(ctx, id)
	switch {
	case err == nil:
		d.Profile = p
	case !errors.Is(err, store.ErrNotFound):
		return nil, Internal(err, "failed to load profile")
	}
	return d, nil
}

func (s *UserService) invalidateDirectory(ctx context.Context) {
	if s.directory == nil {
		return
	}
	if err := s.directory.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear doctor directory cache", zap.Error(err))
	}
}
