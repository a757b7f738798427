package services

import (
	"context"
	"time"

	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var (
	errRecordNotFound  = NotFound("HEALTH_RECORD_NOT_FOUND", "Health record not found")
	errPatientNotFound = NotFound("PATIENT_NOT_FOUND", "Patient not found")
)

const dashboardEntries = 5

type HealthRecordInput struct {
	PatientID     string                `json:"patientId"`
	Date          string                `json:"date"`
	BloodPressure *models.BloodPressure `json:"bloodPressure"`
	HeartRate     *float64              `json:"heartRate" validate:"omitempty,gte=0"`
	Weight        *float64              `json:"weight" validate:"omitempty,gte=0"`
	GlucoseLevel  *float64              `json:"glucoseLevel" validate:"omitempty,gte=0"`
	Symptoms      string                `json:"symptoms" validate:"max=2000"`
	Medications   string                `json:"medications" validate:"max=2000"`
	Notes         string                `json:"notes" validate:"max=2000"`
}

type HealthRecordUpdateInput struct {
	Date          *string               `json:"date"`
	BloodPressure *models.BloodPressure `json:"bloodPressure"`
	HeartRate     *float64              `json:"heartRate" validate:"omitempty,gte=0"`
	Weight        *float64              `json:"weight" validate:"omitempty,gte=0"`
	GlucoseLevel  *float64              `json:"glucoseLevel" validate:"omitempty,gte=0"`
	Symptoms      *string               `json:"symptoms" validate:"omitempty,max=2000"`
	Medications   *string               `json:"medications" validate:"omitempty,max=2000"`
	Notes         *string               `json:"notes" validate:"omitempty,max=2000"`
}

type ListHealthRecordsInput struct {
	StartDate string
	EndDate   string
}

type HealthRecordView struct {
	*models.HealthRecord
	Patient models.UserSummary  `json:"patient"`
	Doctor  *models.UserSummary `json:"doctor,omitempty"`
}

type Dashboard struct {
	RecentEntries []*HealthRecordView  `json:"recentEntries"`
	Summary       models.VitalsSummary `json:"summary"`
}

type HealthService struct {
	users   UserRepository
	records HealthRecordRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewHealthService(users UserRepository, records HealthRecordRepository, logger *zap.Logger) *HealthService {
	return &HealthService{users: users, records: records, logger: logger, now: time.Now}
}

// List returns the patient's own records, or the records a doctor wrote,
// newest first.
func (s *HealthService) List(ctx context.Context, caller auth.Identity, in ListHealthRecordsInput) ([]*HealthRecordView, error) {
	callerID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	var f models.HealthRecordFilter
	switch caller.Role {
	case models.RolePatient:
		f.PatientID = &callerID
	case models.RoleDoctor:
		f.DoctorID = &callerID
	default:
		return nil, Forbidden("Not authorized to list health records")
	}
	if in.StartDate != "" {
		from, err := parseRecordDate(in.StartDate)
		if err != nil {
			return nil, err
		}
		f.From = &from
	}
	if in.EndDate != "" {
		to, err := parseRecordDate(in.EndDate)
		if err != nil {
			return nil, err
		}
		if len(in.EndDate) == len("2006-01-02") {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = &to
	}

	records, err := s.records.Find(ctx, f)
	if err != nil {
		return nil, Internal(err, "failed to list health records")
	}
	return s.populate(ctx, records)
}

func (s *HealthService) Get(ctx context.Context, caller auth.Identity, id string) (*HealthRecordView, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessRecord(caller, r) {
		return nil, Forbidden("Not authorized to access this record")
	}
	return s.populateOne(ctx, r)
}

// Create stores a record for the calling patient, or for the named patient
// when the caller is a doctor.
func (s *HealthService) Create(ctx context.Context, caller auth.Identity, in HealthRecordInput) (*HealthRecordView, error) {
	callerID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}

	r := &models.HealthRecord{
		ID:            bson.NewObjectID(),
		BloodPressure: in.BloodPressure,
		HeartRate:     in.HeartRate,
		Weight:        in.Weight,
		GlucoseLevel:  in.GlucoseLevel,
		Symptoms:      in.Symptoms,
		Medications:   in.Medications,
		Notes:         in.Notes,
		CreatedAt:     s.now().UTC(),
	}

	switch caller.Role {
	case models.RolePatient:
		r.Patient = callerID
	case models.RoleDoctor:
		if in.PatientID == "" {
			return nil, Validation("PATIENT_ID_REQUIRED", "Patient ID is required when doctor creates a record")
		}
		patientID, err := parseID(in.PatientID, "INVALID_PATIENT_ID", "Invalid patient ID format")
		if err != nil {
			return nil, err
		}
		if _, err := s.patient(ctx, patientID); err != nil {
			return nil, err
		}
		r.Patient = patientID
		r.Doctor = &callerID
	default:
		return nil, Forbidden("Not authorized to create health records")
	}

	r.Date = r.CreatedAt
	if in.Date != "" {
		if r.Date, err = parseRecordDate(in.Date); err != nil {
			return nil, err
		}
	}
	if err := checkVitals(r.BloodPressure, r.HeartRate, r.Weight, r.GlucoseLevel); err != nil {
		return nil, err
	}

	if err := s.records.Create(ctx, r); err != nil {
		return nil, Internal(err, "failed to create health record")
	}
	return s.populateOne(ctx, r)
}

// Update is limited to the authoring doctor and the owning patient.
func (s *HealthService) Update(ctx context.Context, caller auth.Identity, id string, in HealthRecordUpdateInput) (*HealthRecordView, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessRecord(caller, r) {
		return nil, Forbidden("Not authorized to update this record")
	}
	if err := checkVitals(in.BloodPressure, in.HeartRate, in.Weight, in.GlucoseLevel); err != nil {
		return nil, err
	}

	patch := models.HealthRecordPatch{
		BloodPressure: in.BloodPressure,
		HeartRate:     in.HeartRate,
		Weight:        in.Weight,
		GlucoseLevel:  in.GlucoseLevel,
		Symptoms:      in.Symptoms,
		Medications:   in.Medications,
		Notes:         in.Notes,
	}
	if in.Date != nil {
		date, err := parseRecordDate(*in.Date)
		if err != nil {
			return nil, err
		}
		patch.Date = &date
	}

	updated, err := s.records.Update(ctx, r.ID, patch)
	if err != nil {
		return nil, fromStore(err, errRecordNotFound, "failed to update health record")
	}
	return s.populateOne(ctx, updated)
}

func (s *HealthService) Delete(ctx context.Context, caller auth.Identity, id string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canAccessRecord(caller, r) {
		return Forbidden("Not authorized to delete this record")
	}
	if err := s.records.Delete(ctx, r.ID); err != nil {
		return fromStore(err, errRecordNotFound, "failed to delete health record")
	}
	return nil
}

// Dashboard returns the caller's latest entries and the most recent vitals.
func (s *HealthService) Dashboard(ctx context.Context, caller auth.Identity) (*Dashboard, error) {
	callerID, err := caller.ObjectID()
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Code: "INVALID_TOKEN_FORMAT", Message: "Invalid caller identity"}
	}
	records, err := s.records.Find(ctx, models.HealthRecordFilter{PatientID: &callerID, Limit: dashboardEntries})
	if err != nil {
		return nil, Internal(err, "failed to load dashboard")
	}
	views, err := s.populate(ctx, records)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{RecentEntries: views}
	if len(records) > 0 {
		d.Summary = models.SummarizeVitals(records[0])
	}
	return d, nil
}

// ForPatient lists every record of a patient for a doctor.
func (s *HealthService) ForPatient(ctx context.Context, caller auth.Identity, patientID string) ([]*HealthRecordView, error) {
	if !auth.IsRole(caller, models.RoleDoctor) {
		return nil, Forbidden("Access denied. Only doctors can view patient records")
	}
	id, err := parseID(patientID, "INVALID_PATIENT_ID", "Invalid patient ID format")
	if err != nil {
		return nil, err
	}
	if _, err := s.patient(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.records.Find(ctx, models.HealthRecordFilter{PatientID: &id})
	if err != nil {
		return nil, Internal(err, "failed to list patient records")
	}
	return s.populate(ctx, records)
}

func canAccessRecord(caller auth.Identity, r *models.HealthRecord) bool {
	if auth.IsOwner(caller, r.Patient) {
		return true
	}
	return r.Doctor != nil && auth.IsOwner(caller, *r.Doctor)
}

func checkVitals(bp *models.BloodPressure, values ...*float64) error {
	if bp != nil {
		values = append(values, bp.Systolic, bp.Diastolic)
	}
	for _, v := range values {
		if v != nil && *v < 0 {
			return Validation("INVALID_VITALS", "Vital measurements must be non-negative")
		}
	}
	return nil
}

// parseRecordDate accepts a full RFC3339 timestamp or a calendar date.
func parseRecordDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := models.ParseCalendarDate(value)
	if err != nil {
		return time.Time{}, Validation("INVALID_DATE", "Invalid date format, expected YYYY-MM-DD or RFC3339")
	}
	return t, nil
}

func (s *HealthService) patient(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fromStore(err, errPatientNotFound, "failed to load patient")
	}
	if u.Role != models.RolePatient {
		return nil, errPatientNotFound
	}
	return u, nil
}

func (s *HealthService) load(ctx context.Context, id string) (*models.HealthRecord, error) {
	recordID, err := parseID(id, "INVALID_ID", "Invalid ID format")
	if err != nil {
		return nil, err
	}
	r, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, fromStore(err, errRecordNotFound, "failed to load health record")
	}
	return r, nil
}

func (s *HealthService) populateOne(ctx context.Context, r *models.HealthRecord) (*HealthRecordView, error) {
	views, err := s.populate(ctx, []*models.HealthRecord{r})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (s *HealthService) populate(ctx context.Context, records []*models.HealthRecord) ([]*HealthRecordView, error) {
	var ids idSet
	for _, r := range records {
		ids.add(r.Patient)
		if r.Doctor != nil {
			ids.add(*r.Doctor)
		}
	}
	summary, err := summaries(ctx, s.users, ids.ids)
	if err != nil {
		return nil, Internal(err, "failed to load record parties")
	}

	views := make([]*HealthRecordView, 0, len(records))
	for _, r := range records {
		v := &HealthRecordView{HealthRecord: r, Patient: summary(r.Patient)}
		if r.Doctor != nil {
			doc := summary(*r.Doctor)
			v.Doctor = &doc
		}
		views = append(views, v)
	}
	return views, nil
}
