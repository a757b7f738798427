package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mediconnect/backend/cache"
	"github.com/mediconnect/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type memoryDirectory struct {
	mu      sync.Mutex
	entries map[string][]DoctorListing
	gets    int
}

func (d *memoryDirectory) Get(_ context.Context, key string, dest interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets++
	v, ok := d.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	*dest.(*[]DoctorListing) = v
	return nil
}

func (d *memoryDirectory) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = value.([]DoctorListing)
	return nil
}

func (d *memoryDirectory) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = map[string][]DoctorListing{}
	return nil
}

func TestDoctorDirectory(t *testing.T) {
	f := newFixture(t)
	dir := &memoryDirectory{entries: map[string][]DoctorListing{}}
	f.users = NewUserService(f.db.Users(), f.db.Profiles(), f.db.Appointments(), dir, zap.NewNop())
	ctx := context.Background()

	f.register(t, CreateUserInput{Name: "Gregory House", Email: "house@example.com", Role: models.RoleDoctor, Specialization: "Diagnostics"})
	f.register(t, CreateUserInput{Name: "James Wilson", Email: "wilson@example.com", Role: models.RoleDoctor, Specialization: "Oncology"})
	f.patient(t, "alice")

	all, err := f.users.Doctors(ctx, DoctorFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Gregory House", all[0].Name)
	assert.Len(t, dir.entries, 1)

	onc, err := f.users.Doctors(ctx, DoctorFilter{Specialization: "onco"})
	require.NoError(t, err)
	require.Len(t, onc, 1)
	assert.Equal(t, "James Wilson", onc[0].Name)

	none, err := f.users.Doctors(ctx, DoctorFilter{Name: "(.*"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// A new doctor clears cached listings.
	f.register(t, CreateUserInput{Name: "Allison Cameron", Email: "cameron@example.com", Role: models.RoleDoctor, Specialization: "Immunology"})
	assert.Empty(t, dir.entries)
	all, err = f.users.Doctors(ctx, DoctorFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDoctorAndPatientDetail(t *testing.T) {
	f := newFixture(t)
	doc := f.doctor(t, "house")
	alice := f.patient(t, "alice")
	ctx := context.Background()

	d, err := f.users.Doctor(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Profile)
	require.NotNil(t, d.Profile.Doctor)
	assert.Equal(t, "Cardiology", d.Profile.Doctor.Specialization)

	_, err = f.users.Doctor(ctx, alice.ID)
	requireKind(t, err, KindNotFound, "DOCTOR_NOT_FOUND")
	_, err = f.users.Doctor(ctx, "nope")
	requireKind(t, err, KindValidation, "INVALID_DOCTOR_ID")

	p, err := f.users.Patient(ctx, doc, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
	_, err = f.users.Patient(ctx, alice, alice.ID)
	requireKind(t, err, KindForbidden, "")
	_, err = f.users.Patient(ctx, doc, doc.ID)
	requireKind(t, err, KindNotFound, "PATIENT_NOT_FOUND")
}

func TestVisitedPatients(t *testing.T) {
	f := newFixture(t)
	doc := f.doctor(t, "house")
	alice := f.patient(t, "alice")
	bob := f.patient(t, "bob")
	carol := f.patient(t, "carol")
	ctx := context.Background()

	none, err := f.users.VisitedPatients(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, none)

	a := f.book(t, alice, doc, "2030-03-04", "9:00 AM")
	f.setStatus(t, doc, a.ID, models.StatusConfirmed)
	f.book(t, bob, doc, "2030-03-04", "10:00 AM")
	c := f.book(t, carol, doc, "2030-03-04", "11:00 AM")
	f.setStatus(t, doc, c.ID, models.StatusConfirmed)
	_, err = f.appointments.MarkVisited(ctx, doc, c.ID.Hex(), MarkVisitedInput{})
	require.NoError(t, err)

	visited, err := f.users.VisitedPatients(ctx, doc)
	require.NoError(t, err)
	require.Len(t, visited, 2)
	assert.Equal(t, "alice", visited[0].Name)
	assert.Equal(t, "carol", visited[1].Name)

	all, err := f.users.Patients(ctx, doc)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.users.VisitedPatients(ctx, alice)
	requireKind(t, err, KindForbidden, "")
}

func TestProfileCreatedLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A user inserted without a profile, as older records are.
	u := &models.User{
		ID:      bson.NewObjectID(),
		Name:    "Dana",
		Email:   "dana@example.com",
		Role:    models.RolePatient,
		Patient: &models.PatientAttributes{Height: 160, Weight: 55},
	}
	require.NoError(t, f.db.Users().Create(ctx, u))
	caller := identityOf(u)

	var wg sync.WaitGroup
	profiles := make([]*models.Profile, 4)
	for i := range profiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.users.Profile(ctx, caller)
			assert.NoError(t, err)
			profiles[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range profiles {
		require.NotNil(t, p)
		assert.Equal(t, profiles[0].ID, p.ID)
		assert.Equal(t, models.RolePatient, p.Details().Role())
	}

	p, err := f.users.SetPicture(ctx, caller, "/api/media/profile-pics/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/api/media/profile-pics/x.jpg", p.PictureURL)
	again, err := f.users.Profile(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, "/api/media/profile-pics/x.jpg", again.PictureURL)

	ghost := identityOf(&models.User{ID: bson.NewObjectID(), Role: models.RolePatient})
	_, err = f.users.Profile(ctx, ghost)
	requireKind(t, err, KindNotFound, "USER_NOT_FOUND")
}

func TestAdminUserManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.patient(t, "alice")

	u, err := f.users.CreateUser(ctx, f.admin, CreateUserInput{
		Name: "Lisa Cuddy", Email: "  Cuddy@Example.com ", Role: models.RoleDoctor, Specialization: "Endocrinology",
	})
	require.NoError(t, err)
	assert.Equal(t, "cuddy@example.com", u.Email)

	_, err = f.users.CreateUser(ctx, f.admin, CreateUserInput{
		Name: "Other Cuddy", Email: "cuddy@example.com", Role: models.RoleDoctor, Specialization: "Surgery",
	})
	requireKind(t, err, KindConflict, "EMAIL_EXISTS")

	_, err = f.users.CreateUser(ctx, f.admin, CreateUserInput{Name: "No Spec", Email: "nospec@example.com", Role: models.RoleDoctor})
	requireKind(t, err, KindValidation, "VALIDATION_ERROR")
	_, err = f.users.CreateUser(ctx, f.admin, CreateUserInput{Name: "No Height", Email: "nh@example.com", Role: models.RolePatient, Weight: 60})
	requireKind(t, err, KindValidation, "VALIDATION_ERROR")
	_, err = f.users.CreateUser(ctx, alice, CreateUserInput{Name: "x", Email: "x@example.com", Role: models.RoleAdmin})
	requireKind(t, err, KindForbidden, "")

	users, err := f.users.ListUsers(ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, users, 2)
	doctors, err := f.users.ListUsers(ctx, f.admin, models.RoleDoctor)
	require.NoError(t, err)
	assert.Len(t, doctors, 1)
	_, err = f.users.ListUsers(ctx, f.admin, "nurse")
	requireKind(t, err, KindValidation, "INVALID_ROLE")

	detail, err := f.users.GetUser(ctx, f.admin, u.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, detail.Profile)

	err = f.users.DeleteUser(ctx, f.admin, f.admin.ID)
	requireKind(t, err, KindValidation, "CANNOT_DELETE_ADMIN")

	require.NoError(t, f.users.DeleteUser(ctx, f.admin, u.ID.Hex()))
	_, err = f.db.Profiles().FindByUser(ctx, u.ID)
	assert.Error(t, err)
	_, err = f.users.GetUser(ctx, f.admin, u.ID.Hex())
	requireKind(t, err, KindNotFound, "USER_NOT_FOUND")
	err = f.users.DeleteUser(ctx, f.admin, u.ID.Hex())
	requireKind(t, err, KindNotFound, "USER_NOT_FOUND")
}
