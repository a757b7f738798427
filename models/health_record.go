package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type BloodPressure struct {
	Systolic  *float64 `bson:"systolic,omitempty" json:"systolic" validate:"omitempty,gte=0"`
	Diastolic *float64 `bson:"diastolic,omitempty" json:"diastolic" validate:"omitempty,gte=0"`
}

type HealthRecord struct {
	ID            bson.ObjectID  `bson:"_id,omitempty" json:"id"`
	Patient       bson.ObjectID  `bson:"patient" json:"patient"`
	Doctor        *bson.ObjectID `bson:"doctor,omitempty" json:"doctor,omitempty"`
	Date          time.Time      `bson:"date" json:"date"`
	BloodPressure *BloodPressure `bson:"bloodPressure,omitempty" json:"bloodPressure,omitempty"`
	HeartRate     *float64       `bson:"heartRate,omitempty" json:"heartRate,omitempty"`
	Weight        *float64       `bson:"weight,omitempty" json:"weight,omitempty"`
	GlucoseLevel  *float64       `bson:"glucoseLevel,omitempty" json:"glucoseLevel,omitempty"`
	Symptoms      string         `bson:"symptoms,omitempty" json:"symptoms,omitempty"`
	Medications   string         `bson:"medications,omitempty" json:"medications,omitempty"`
	Notes         string         `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt     time.Time      `bson:"createdAt" json:"createdAt"`
}

// AuthoredBy reports whether doctorID wrote the record.
func (r *HealthRecord) AuthoredBy(doctorID bson.ObjectID) bool {
	return r.Doctor != nil && *r.Doctor == doctorID
}

// HealthRecordPatch holds the fields an update may change. Nil fields are
// left untouched.
type HealthRecordPatch struct {
	Date          *time.Time
	BloodPressure *BloodPressure
	HeartRate     *float64
	Weight        *float64
	GlucoseLevel  *float64
	Symptoms      *string
	Medications   *string
	Notes         *string
}

func (p HealthRecordPatch) Apply(r *HealthRecord) {
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.BloodPressure != nil {
		r.BloodPressure = p.BloodPressure
	}
	if p.HeartRate != nil {
		r.HeartRate = p.HeartRate
	}
	if p.Weight != nil {
		r.Weight = p.Weight
	}
	if p.GlucoseLevel != nil {
		r.GlucoseLevel = p.GlucoseLevel
	}
	if p.Symptoms != nil {
		r.Symptoms = *p.Symptoms
	}
	if p.Medications != nil {
		r.Medications = *p.Medications
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}

type HealthRecordFilter struct {
	PatientID *bson.ObjectID
	DoctorID  *bson.ObjectID
	From      *time.Time
	To        *time.Time
	Limit     int64
}

// VitalsSummary carries the latest measured values.
type VitalsSummary struct {
	BloodPressure BloodPressure `json:"bloodPressure"`
	HeartRate     *float64      `json:"heartRate"`
	Weight        *float64      `json:"weight"`
	GlucoseLevel  *float64      `json:"glucoseLevel"`
}

func SummarizeVitals(latest *HealthRecord) VitalsSummary {
	var s VitalsSummary
	if latest == nil {
		return s
	}
	if latest.BloodPressure != nil {
		s.BloodPressure = *latest.BloodPressure
	}
	s.HeartRate = latest.HeartRate
	s.Weight = latest.Weight
	s.GlucoseLevel = latest.GlucoseLevel
	return s
}
