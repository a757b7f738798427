package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/events"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/store"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var (
	errAppointmentNotFound = NotFound("APPOINTMENT_NOT_FOUND", "Appointment not found")
	errDoctorNotFound      = NotFound("DOCTOR_NOT_FOUND", "Doctor not found")
)

type CreateAppointmentInput struct {
	DoctorID string `json:"doctorId" validate:"required"`
	Date     string `json:"date" validate:"required"`
	TimeSlot string `json:"timeSlot" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=500"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type ListAppointmentsInput struct {
	Status    string
	StartDate string
	EndDate   string
}

type UpdateStatusInput struct {
	Status string  `json:"status" validate:"required"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

type MarkVisitedInput struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// AppointmentView is an appointment with both parties populated.
type AppointmentView struct {
	*models.Appointment
	Patient models.UserSummary `json:"patient"`
	Doctor  models.UserSummary `json:"doctor"`
}

type Availability struct {
	DoctorID       string   `json:"doctorId"`
	Date           string   `json:"date"`
	AvailableSlots []string `json:"availableSlots"`
	BookedSlots    []string `json:"bookedSlots"`
}

// AppointmentService owns the appointment state machine.
type AppointmentService struct {
	users        UserRepository
	appointments AppointmentRepository
	events       events.Publisher
	logger       *zap.Logger
	now          func() time.Time
}

func NewAppointmentService(users UserRepository, appointments AppointmentRepository, publisher events.Publisher, logger *zap.Logger) *AppointmentService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &AppointmentService{
		users:        users,
		appointments: appointments,
		events:       publisher,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *AppointmentService) Create(ctx context.Context, caller auth.Identity, in CreateAppointmentInput) (*AppointmentView, error) {
	if !auth.IsRole(caller, models.RolePatient) {
		return nil, Forbidden("Only patients can request appointments")
	}
	patientID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	doctorID, err := parseID(in.DoctorID, "INVALID_DOCTOR_ID", "Invalid doctor ID format")
	if err != nil {
		return nil, err
	}
	if !models.IsValidSlot(in.TimeSlot) {
		return nil, Validation("INVALID_TIME_SLOT",
			fmt.Sprintf("Time slot must be one of: %s", strings.Join(models.TimeSlots, ", ")))
	}
	date, err := models.ParseCalendarDate(in.Date)
	if err != nil {
		return nil, Validation("INVALID_DATE", "Invalid date format, expected YYYY-MM-DD")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, Validation("REASON_REQUIRED", "Reason for the appointment is required")
	}

	doctor, err := s.doctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &models.Appointment{
		ID:        bson.NewObjectID(),
		Patient:   patientID,
		Doctor:    doctorID,
		Date:      date,
		TimeSlot:  in.TimeSlot,
		Reason:    reason,
		Status:    models.StatusPending,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, Conflict("SLOT_ALREADY_BOOKED", "The selected time slot is already booked")
		}
		return nil, Internal(err, "failed to create appointment")
	}

	s.publish(ctx, events.New(events.TypeCreated, a, caller.ID, caller.Role, ""))

	view := &AppointmentView{Appointment: a, Doctor: doctor.Summary()}
	if patient, err := s.users.FindByID(ctx, patientID); err == nil {
		view.Patient = patient.Summary()
	} else {
		view.Patient = models.UserSummary{ID: patientID, Email: caller.Email}
	}
	return view, nil
}

// List returns the caller's appointments. Doctors see confirmed and
// completed appointments unless a status is requested.
func (s *AppointmentService) List(ctx context.Context, caller auth.Identity, in ListAppointmentsInput) ([]*AppointmentView, error) {
	callerID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}

	var f models.AppointmentFilter
	switch caller.Role {
	case models.RolePatient:
		f.PatientID = &callerID
	case models.RoleDoctor:
		f.DoctorID = &callerID
	default:
		return nil, Forbidden("Access denied")
	}

	switch in.Status {
	case models.StatusAll:
	case "":
		if caller.Role == models.RoleDoctor {
			f.Statuses = []models.AppointmentStatus{models.StatusConfirmed, models.StatusCompleted}
		}
	default:
		status := models.AppointmentStatus(in.Status)
		if !status.Valid() {
			return nil, Validation("INVALID_STATUS", "Status must be one of: pending, confirmed, completed, cancelled, all")
		}
		f.Statuses = []models.AppointmentStatus{status}
	}

	if in.StartDate != "" {
		from, err := models.ParseCalendarDate(in.StartDate)
		if err != nil {
			return nil, Validation("INVALID_DATE", "Invalid startDate, expected YYYY-MM-DD")
		}
		f.From = &from
	}
	if in.EndDate != "" {
		to, err := models.ParseCalendarDate(in.EndDate)
		if err != nil {
			return nil, Validation("INVALID_DATE", "Invalid endDate, expected YYYY-MM-DD")
		}
		f.To = &to
	}

	list, err := s.appointments.Find(ctx, f)
	if err != nil {
		return nil, Internal(err, "failed to list appointments")
	}
	SortChronologically(list)
	return s.populate(ctx, list)
}

// SortChronologically orders appointments by date, then by the slot's
// position in the day.
func SortChronologically(list []*models.Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		return models.SlotIndex(list[i].TimeSlot) < models.SlotIndex(list[j].TimeSlot)
	})
}

func (s *AppointmentService) Get(ctx context.Context, caller auth.Identity, id string) (*AppointmentView, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsOwner(caller, a.Patient) && !auth.IsOwner(caller, a.Doctor) {
		return nil, Forbidden("Not authorized to view this appointment")
	}
	return s.populateOne(ctx, a)
}

// UpdateStatus moves an appointment along the transition table on behalf of
// its doctor.
func (s *AppointmentService) UpdateStatus(ctx context.Context, caller auth.Identity, id string, in UpdateStatusInput) (*AppointmentView, error) {
	appointmentID, err := parseID(id, "INVALID_ID", "Invalid appointment ID format")
	if err != nil {
		return nil, err
	}
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Only doctors can update appointment status")
	}
	a, err := s.find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !auth.IsOwner(caller, a.Doctor) {
		return nil, Forbidden("Not authorized to update this appointment")
	}

	next := models.AppointmentStatus(in.Status)
	if !next.Valid() {
		return nil, Validation("INVALID_STATUS", "Invalid status value")
	}
	if !a.Status.CanTransitionTo(next) {
		return nil, Validation("INVALID_STATUS_TRANSITION",
			fmt.Sprintf("Cannot change appointment status from %s to %s", a.Status, next))
	}

	update := models.AppointmentUpdate{Status: next}
	if next == models.StatusCancelled {
		notes := a.Notes
		if in.Notes != nil && *in.Notes != "" {
			notes = models.AppendNote(notes, *in.Notes)
		}
		notes = models.AppendNote(notes, models.CancellationNote(caller.Role, s.now()))
		update.Notes = &notes
	} else if in.Notes != nil && *in.Notes != "" {
		update.Notes = in.Notes
	}

	updated, err := s.appointments.Transition(ctx, a.ID, a.Status, update)
	if err != nil {
		return nil, fromStore(err, errAppointmentNotFound, "failed to update appointment")
	}
	s.publish(ctx, events.New(events.TypeForStatus(a.Status, next), updated, caller.ID, caller.Role, a.Status))
	return s.populateOne(ctx, updated)
}

// Cancel is available to the appointment's patient and doctor.
func (s *AppointmentService) Cancel(ctx context.Context, caller auth.Identity, id string) (*AppointmentView, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsOwner(caller, a.Patient) && !auth.IsOwner(caller, a.Doctor) {
		return nil, Forbidden("Not authorized to cancel this appointment")
	}
	if a.Status.Terminal() {
		return nil, Validation("INVALID_STATUS_TRANSITION",
			fmt.Sprintf("Appointment is already %s", a.Status))
	}

	notes := models.AppendNote(a.Notes, models.CancellationNote(caller.Role, s.now()))
	updated, err := s.appointments.Transition(ctx, a.ID, a.Status, models.AppointmentUpdate{
		Status: models.StatusCancelled,
		Notes:  &notes,
	})
	if err != nil {
		return nil, fromStore(err, errAppointmentNotFound, "failed to cancel appointment")
	}
	s.publish(ctx, events.New(events.TypeCancelled, updated, caller.ID, caller.Role, a.Status))
	return s.populateOne(ctx, updated)
}

// MarkVisited completes the appointment, then records the patient against
// the doctor. The counter update is conditional on the patient not being
// listed yet, so repeated calls count once.
func (s *AppointmentService) MarkVisited(ctx context.Context, caller auth.Identity, id string, in MarkVisitedInput) (*AppointmentView, error) {
	appointmentID, err := parseID(id, "INVALID_ID", "Invalid appointment ID format")
	if err != nil {
		return nil, err
	}
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Only doctors can mark appointments as visited")
	}
	a, err := s.find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !auth.IsOwner(caller, a.Doctor) {
		return nil, Forbidden("Not authorized to update this appointment")
	}
	if a.Status != models.StatusConfirmed && a.Status != models.StatusCompleted {
		return nil, Validation("INVALID_STATUS_TRANSITION",
			"Only confirmed or completed appointments can be marked as visited")
	}

	visited := true
	update := models.AppointmentUpdate{Status: models.StatusCompleted, Visited: &visited}
	if in.Notes != nil && *in.Notes != "" {
		update.Notes = in.Notes
	}
	updated, err := s.appointments.Transition(ctx, a.ID, a.Status, update)
	if err != nil {
		return nil, fromStore(err, errAppointmentNotFound, "failed to mark appointment as visited")
	}

	added, err := s.users.AddServedPatient(ctx, updated.Doctor, updated.Patient)
	if err != nil {
		s.logger.Error("failed to record served patient",
			zap.Error(err),
			zap.String("doctor_id", updated.Doctor.Hex()),
			zap.String("patient_id", updated.Patient.Hex()))
	} else if added {
		s.logger.Info("doctor served a new patient",
			zap.String("doctor_id", updated.Doctor.Hex()),
			zap.String("patient_id", updated.Patient.Hex()))
	}

	s.publish(ctx, events.New(events.TypeVisited, updated, caller.ID, caller.Role, a.Status))
	return s.populateOne(ctx, updated)
}

// Availability lists the open slots of a doctor on a calendar day. An
// empty date means today (UTC).
func (s *AppointmentService) Availability(ctx context.Context, doctorID, date string) (*Availability, error) {
	id, err := parseID(doctorID, "INVALID_DOCTOR_ID", "Invalid doctor ID format")
	if err != nil {
		return nil, err
	}
	day := s.now().UTC().Truncate(24 * time.Hour)
	if date != "" {
		if day, err = models.ParseCalendarDate(date); err != nil {
			return nil, Validation("INVALID_DATE", "Invalid date format, expected YYYY-MM-DD")
		}
	}
	if _, err := s.doctor(ctx, id); err != nil {
		return nil, err
	}

	booked, err := s.appointments.BookedSlots(ctx, id, day)
	if err != nil {
		return nil, Internal(err, "failed to load booked slots")
	}
	taken := make(map[string]bool, len(booked))
	for _, slot := range booked {
		taken[slot] = true
	}
	out := &Availability{
		DoctorID:       id.Hex(),
		Date:           day.Format("2006-01-02"),
		AvailableSlots: []string{},
		BookedSlots:    []string{},
	}
	for _, slot := range models.TimeSlots {
		if taken[slot] {
			out.BookedSlots = append(out.BookedSlots, slot)
		} else {
			out.AvailableSlots = append(out.AvailableSlots, slot)
		}
	}
	return out, nil
}

func (s *AppointmentService) doctor(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	doctor, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, errDoctorNotFound, "failed to load doctor")
	}
	if doctor.Role != models.RoleDoctor {
		return nil, errDoctorNotFound
	}
	return doctor, nil
}

func (s *AppointmentService) load(ctx context.Context, id string) (*models.Appointment, error) {
	appointmentID, err := parseID(id, "INVALID_ID", "Invalid appointment ID format")
	if err != nil {
		return nil, err
	}
	return s.find(ctx, appointmentID)
}

func (s *AppointmentService) find(ctx context.Context, id bson.ObjectID) (*models.Appointment, error) {
	a, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, errAppointmentNotFound, "failed to load appointment")
	}
	return a, nil
}

func (s *AppointmentService) populateOne(ctx context.Context, a *models.Appointment) (*AppointmentView, error) {
	views, err := s.populate(ctx, []*models.Appointment{a})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// populate resolves both parties of every appointment with one user query.
func (s *AppointmentService) populate(ctx context.Context, list []*models.Appointment) ([]*AppointmentView, error) {
	var ids idSet
	for _, a := range list {
		ids.add(a.Patient)
		ids.add(a.Doctor)
	}
	summary, err := summaries(ctx, s.users, ids.ids)
	if err != nil {
		return nil, Internal(err, "failed to load appointment parties")
	}

	views := make([]*AppointmentView, 0, len(list))
	for _, a := range list {
		views = append(views, &AppointmentView{
			Appointment: a,
			Patient:     summary(a.Patient),
			Doctor:      summary(a.Doctor),
		})
	}
	return views, nil
}

func (s *AppointmentService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish appointment event",
			zap.Error(err),
			zap.String("type", string(e.Type)),
			zap.String("appointment_id", e.AppointmentID))
	}
}
