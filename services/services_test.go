package services

import (
	"context"
	"testing"
	"time"

	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/events"
	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/store/memstore"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type fixture struct {
	db           *memstore.Store
	events       *events.Memory
	appointments *AppointmentService
	health       *HealthService
	users        *UserService
	admin        auth.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	mem := events.NewMemory()
	logger := zap.NewNop()
	f := &fixture{
		db:           db,
		events:       mem,
		appointments: NewAppointmentService(db.Users(), db.Appointments(), mem, logger),
		health:       NewHealthService(db.Users(), db.HealthRecords(), logger),
		users:        NewUserService(db.Users(), db.Profiles(), db.Appointments(), nil, logger),
	}
	f.admin = f.register(t, CreateUserInput{Name: "Root Admin", Email: "root@example.com", Role: models.RoleAdmin})
	return f
}

func (f *fixture) register(t *testing.T, in CreateUserInput) auth.Identity {
	t.Helper()
	u, err := f.users.Register(context.Background(), in)
	require.NoError(t, err)
	return identityOf(u)
}

func (f *fixture) doctor(t *testing.T, name string) auth.Identity {
	return f.register(t, CreateUserInput{
		Name:           name,
		Email:          name + "@clinic.example.com",
		Role:           models.RoleDoctor,
		Specialization: "Cardiology",
	})
}

func (f *fixture) patient(t *testing.T, name string) auth.Identity {
	return f.register(t, CreateUserInput{
		Name:   name,
		Email:  name + "@mail.example.com",
		Role:   models.RolePatient,
		Height: 170,
		Weight: 70,
	})
}

func (f *fixture) book(t *testing.T, patient, doctor auth.Identity, date, slot string) *AppointmentView {
	t.Helper()
	view, err := f.appointments.Create(context.Background(), patient, CreateAppointmentInput{
		DoctorID: doctor.ID,
		Date:     date,
		TimeSlot: slot,
		Reason:   "Checkup",
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) setStatus(t *testing.T, doctor auth.Identity, id bson.ObjectID, status models.AppointmentStatus) *AppointmentView {
	t.Helper()
	view, err := f.appointments.UpdateStatus(context.Background(), doctor, id.Hex(), UpdateStatusInput{Status: string(status)})
	require.NoError(t, err)
	return view
}

func requireKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, e.Message)
	if code != "" {
		require.Equal(t, code, e.Code)
	}
}

func fixedNow(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{ID: u.ID.Hex(), Role: u.Role, Email: u.Email}
}
