package services

import (
	"context"
	"time"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Repositories return store.ErrNotFound, store.ErrDuplicateKey or
// store.ErrStaleWrite for the conditions the services translate.

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Find(ctx context.Context, f models.UserFilter) ([]*models.User, error)
	Delete(ctx context.Context, id bson.ObjectID) error
	AddServedPatient(ctx context.Context, doctorID, patientID bson.ObjectID) (bool, error)
}

type ProfileRepository interface {
	FindByUser(ctx context.Context, userID bson.ObjectID) (*models.Profile, error)
	Create(ctx context.Context, p *models.Profile) error
	DeleteByUser(ctx context.Context, userID bson.ObjectID) error
	SetPicture(ctx context.Context, userID bson.ObjectID, url string) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *models.Appointment) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Appointment, error)
	Find(ctx context.Context, f models.AppointmentFilter) ([]*models.Appointment, error)
	Transition(ctx context.Context, id bson.ObjectID, from models.AppointmentStatus, update models.AppointmentUpdate) (*models.Appointment, error)
	BookedSlots(ctx context.Context, doctorID bson.ObjectID, date time.Time) ([]string, error)
}

type HealthRecordRepository interface {
	Create(ctx context.Context, r *models.HealthRecord) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.HealthRecord, error)
	Find(ctx context.Context, f models.HealthRecordFilter) ([]*models.HealthRecord, error)
	Update(ctx context.Context, id bson.ObjectID, patch models.HealthRecordPatch) (*models.HealthRecord, error)
	Delete(ctx context.Context, id bson.ObjectID) error
}
