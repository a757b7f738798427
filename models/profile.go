package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Qualification struct {
	Degree      string `bson:"degree" json:"degree"`
	Institution string `bson:"institution" json:"institution"`
	Year        string `bson:"year,omitempty" json:"year,omitempty"`
}

// ProfileDetails is the role-shaped part of a Profile.
type ProfileDetails interface {
	Role() Role
}

type DoctorProfile struct {
	Specialization string          `bson:"specialization" json:"specialization"`
	Qualifications []Qualification `bson:"qualifications" json:"qualifications"`
	Experience     string          `bson:"experience,omitempty" json:"experience,omitempty"`
	About          string          `bson:"about,omitempty" json:"about,omitempty"`
}

func (DoctorProfile) Role() Role { return RoleDoctor }

type PatientProfile struct {
	Height           float64           `bson:"height,omitempty" json:"height,omitempty"`
	Weight           float64           `bson:"weight,omitempty" json:"weight,omitempty"`
	Conditions       []string          `bson:"conditions" json:"conditions"`
	Allergies        []string          `bson:"allergies" json:"allergies"`
	EmergencyContact *EmergencyContact `bson:"emergencyContact,omitempty" json:"emergencyContact,omitempty"`
}

func (PatientProfile) Role() Role { return RolePatient }

type AdminProfile struct{}

func (AdminProfile) Role() Role { return RoleAdmin }

type Profile struct {
	ID          bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	User        bson.ObjectID   `bson:"user" json:"user"`
	Role        Role            `bson:"role" json:"role"`
	Name        string          `bson:"name" json:"name"`
	Email       string          `bson:"email" json:"email"`
	Phone       string          `bson:"phone,omitempty" json:"phone,omitempty"`
	DateOfBirth *time.Time      `bson:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	Gender      string          `bson:"gender,omitempty" json:"gender,omitempty"`
	PictureURL  string          `bson:"pictureUrl,omitempty" json:"pictureUrl,omitempty"`
	Doctor      *DoctorProfile  `bson:"doctor,omitempty" json:"doctor,omitempty"`
	Patient     *PatientProfile `bson:"patient,omitempty" json:"patient,omitempty"`
	CreatedAt   time.Time       `bson:"createdAt" json:"createdAt"`
}

func (p *Profile) Details() ProfileDetails {
	switch p.Role {
	case RoleDoctor:
		if p.Doctor == nil {
			return DoctorProfile{}
		}
		return *p.Doctor
	case RolePatient:
		if p.Patient == nil {
			return PatientProfile{}
		}
		return *p.Patient
	default:
		return AdminProfile{}
	}
}

// NewProfileFor builds the initial profile mirrored from a user record.
func NewProfileFor(u *User, now time.Time) *Profile {
	p := &Profile{
		User:        u.ID,
		Role:        u.Role,
		Name:        u.Name,
		Email:       u.Email,
		Phone:       u.Phone,
		DateOfBirth: u.DateOfBirth,
		Gender:      u.Gender,
		CreatedAt:   now,
	}
	switch attrs := u.Attributes().(type) {
	case DoctorAttributes:
		p.Doctor = &DoctorProfile{
			Specialization: attrs.Specialization,
			Qualifications: []Qualification{},
		}
	case PatientAttributes:
		p.Patient = &PatientProfile{
			Height:           attrs.Height,
			Weight:           attrs.Weight,
			Conditions:       []string{},
			Allergies:        []string{},
			EmergencyContact: attrs.EmergencyContact,
		}
	}
	return p
}
