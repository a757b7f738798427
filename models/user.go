package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type EmergencyContact struct {
	Name         string `bson:"name,omitempty" json:"name,omitempty"`
	Relationship string `bson:"relationship,omitempty" json:"relationship,omitempty"`
	Phone        string `bson:"phone,omitempty" json:"phone,omitempty"`
}

// RoleAttributes is the role-specific part of a User. Exactly one
// implementation matches the user's role.
type RoleAttributes interface {
	Role() Role
}

type DoctorAttributes struct {
	Specialization string          `bson:"specialization" json:"specialization"`
	PatientsServed []bson.ObjectID `bson:"patientsServed" json:"patientsServed"`
	PatientsCount  int             `bson:"patientsCount" json:"patientsCount"`
}

func (DoctorAttributes) Role() Role { return RoleDoctor }

type PatientAttributes struct {
	Height           float64           `bson:"height" json:"height"`
	Weight           float64           `bson:"weight" json:"weight"`
	EmergencyContact *EmergencyContact `bson:"emergencyContact,omitempty" json:"emergencyContact,omitempty"`
}

func (PatientAttributes) Role() Role { return RolePatient }

type AdminAttributes struct{}

func (AdminAttributes) Role() Role { return RoleAdmin }

type User struct {
	ID          bson.ObjectID      `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Email       string             `bson:"email" json:"email"`
	Phone       string             `bson:"phone" json:"phone"`
	Role        Role               `bson:"role" json:"role"`
	DateOfBirth *time.Time         `bson:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	Gender      string             `bson:"gender,omitempty" json:"gender,omitempty"`
	Doctor      *DoctorAttributes  `bson:"doctor,omitempty" json:"doctor,omitempty"`
	Patient     *PatientAttributes `bson:"patient,omitempty" json:"patient,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// Attributes returns the variant matching the user's role. A record whose
// sub-document is missing still resolves to an empty variant of the right
// type.
func (u *User) Attributes() RoleAttributes {
	switch u.Role {
	case RoleDoctor:
		if u.Doctor == nil {
			return DoctorAttributes{}
		}
		return *u.Doctor
	case RolePatient:
		if u.Patient == nil {
			return PatientAttributes{}
		}
		return *u.Patient
	default:
		return AdminAttributes{}
	}
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true, "prefer-not-to-say": true,
}

// Normalize lower-cases the email and drops variant sub-documents that do
// not belong to the role.
func (u *User) Normalize() {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	switch u.Role {
	case RoleDoctor:
		u.Patient = nil
		if u.Doctor != nil {
			u.Doctor.Specialization = strings.TrimSpace(u.Doctor.Specialization)
			if u.Doctor.PatientsServed == nil {
				u.Doctor.PatientsServed = []bson.ObjectID{}
			}
			u.Doctor.PatientsCount = len(u.Doctor.PatientsServed)
		}
	case RolePatient:
		u.Doctor = nil
	default:
		u.Doctor = nil
		u.Patient = nil
	}
}

// Validate enforces the role-conditional required fields. It returns a
// FieldError describing the first violation.
func (u *User) Validate() error {
	if u.Name == "" {
		return &FieldError{Field: "name", Message: "Name is required"}
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return &FieldError{Field: "email", Message: "A valid email is required"}
	}
	if !u.Role.Valid() {
		return &FieldError{Field: "role", Message: "Role must be one of: patient, doctor, admin"}
	}
	if u.Gender != "" && !validGenders[u.Gender] {
		return &FieldError{Field: "gender", Message: "Gender must be one of: male, female, other, prefer-not-to-say"}
	}
	switch attrs := u.Attributes().(type) {
	case DoctorAttributes:
		if attrs.Specialization == "" {
			return &FieldError{Field: "specialization", Message: "Specialization is required for doctors"}
		}
	case PatientAttributes:
		if attrs.Height <= 0 {
			return &FieldError{Field: "height", Message: "Height is required for patients"}
		}
		if attrs.Weight <= 0 {
			return &FieldError{Field: "weight", Message: "Weight is required for patients"}
		}
	}
	return nil
}

type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }

// UserSummary is the populated view of an appointment party.
type UserSummary struct {
	ID             bson.ObjectID `json:"id"`
	Name           string        `json:"name"`
	Email          string        `json:"email"`
	Phone          string        `json:"phone,omitempty"`
	Specialization string        `json:"specialization,omitempty"`
}

func (u *User) Summary() UserSummary {
	s := UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
	if d, ok := u.Attributes().(DoctorAttributes); ok {
		s.Specialization = d.Specialization
	}
	return s
}

type UserFilter struct {
	Role           Role
	Specialization string
	Name           string
	IDs            []bson.ObjectID
}
