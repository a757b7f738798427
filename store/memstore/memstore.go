// Package memstore keeps every collection in process memory with the same
// uniqueness rules as the Mongo indexes. It backs the test suite and
// `serve --in-memory`.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediconnect/backend/models"
	"github.com/mediconnect/backend/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type Store struct {
	mu           sync.Mutex
	users        map[bson.ObjectID]models.User
	profiles     map[bson.ObjectID]models.Profile
	appointments map[bson.ObjectID]models.Appointment
	records      map[bson.ObjectID]models.HealthRecord
}

func New() *Store {
	return &Store{
		users:        map[bson.ObjectID]models.User{},
		profiles:     map[bson.ObjectID]models.Profile{},
		appointments: map[bson.ObjectID]models.Appointment{},
		records:      map[bson.ObjectID]models.HealthRecord{},
	}
}

func (s *Store) Users() *Users               { return &Users{s} }
func (s *Store) Profiles() *Profiles         { return &Profiles{s} }
func (s *Store) Appointments() *Appointments { return &Appointments{s} }
func (s *Store) HealthRecords() *Records     { return &Records{s} }

func cloneUser(u models.User) *models.User {
	if u.Doctor != nil {
		d := *u.Doctor
		d.PatientsServed = append([]bson.ObjectID{}, d.PatientsServed...)
		u.Doctor = &d
	}
	if u.Patient != nil {
		p := *u.Patient
		u.Patient = &p
	}
	return &u
}

type Users struct{ s *Store }

func (r *Users) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return store.ErrDuplicateKey
		}
	}
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	r.s.users[u.ID] = *cloneUser(*u)
	return nil
}

func (r *Users) FindByID(_ context.Context, id bson.ObjectID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *Users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *Users) Find(_ context.Context, f models.UserFilter) ([]*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids map[bson.ObjectID]bool
	if f.IDs != nil {
		ids = make(map[bson.ObjectID]bool, len(f.IDs))
		for _, id := range f.IDs {
			ids[id] = true
		}
	}
	out := []*models.User{}
	for _, u := range r.s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if ids != nil && !ids[u.ID] {
			continue
		}
		if f.Name != "" && !containsFold(u.Name, f.Name) {
			continue
		}
		if f.Specialization != "" && (u.Doctor == nil || !containsFold(u.Doctor.Specialization, f.Specialization)) {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Users) Delete(_ context.Context, id bson.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *Users) AddServedPatient(_ context.Context, doctorID, patientID bson.ObjectID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[doctorID]
	if !ok || u.Role != models.RoleDoctor {
		return false, nil
	}
	d := models.DoctorAttributes{}
	if u.Doctor != nil {
		d = *u.Doctor
	}
	for _, id := range d.PatientsServed {
		if id == patientID {
			return false, nil
		}
	}
	d.PatientsServed = append(append([]bson.ObjectID{}, d.PatientsServed...), patientID)
	d.PatientsCount++
	u.Doctor = &d
	r.s.users[doctorID] = u
	return true, nil
}

type Profiles struct{ s *Store }

func (r *Profiles) FindByUser(_ context.Context, userID bson.ObjectID) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.profiles {
		if p.User == userID {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *Profiles) Create(_ context.Context, p *models.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.profiles {
		if existing.User == p.User {
			return store.ErrDuplicateKey
		}
	}
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	r.s.profiles[p.ID] = *p
	return nil
}

func (r *Profiles) DeleteByUser(_ context.Context, userID bson.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.profiles {
		if p.User == userID {
			delete(r.s.profiles, id)
		}
	}
	return nil
}

func (r *Profiles) SetPicture(_ context.Context, userID bson.ObjectID, url string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.profiles {
		if p.User == userID {
			p.PictureURL = url
			r.s.profiles[id] = p
			return nil
		}
	}
	return store.ErrNotFound
}

type Appointments struct{ s *Store }

func (r *Appointments) Create(_ context.Context, a *models.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.SlotActive = a.Status != models.StatusCancelled
	if a.SlotActive {
		for _, existing := range r.s.appointments {
			if existing.SlotActive && existing.Doctor == a.Doctor &&
				existing.Date.Equal(a.Date) && existing.TimeSlot == a.TimeSlot {
				return store.ErrDuplicateKey
			}
		}
	}
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	r.s.appointments[a.ID] = *a
	return nil
}

func (r *Appointments) FindByID(_ context.Context, id bson.ObjectID) (*models.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func hasStatus(list []models.AppointmentStatus, s models.AppointmentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *Appointments) Find(_ context.Context, f models.AppointmentFilter) ([]*models.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Appointment{}
	for _, a := range r.s.appointments {
		if f.PatientID != nil && a.Patient != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.Doctor != *f.DoctorID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, a.Status) {
			continue
		}
		if len(f.VisitedOrStatuses) > 0 && !a.Visited && !hasStatus(f.VisitedOrStatuses, a.Status) {
			continue
		}
		if f.Date != nil {
			if !a.Date.Equal(*f.Date) {
				continue
			}
		} else {
			if f.From != nil && a.Date.Before(*f.From) {
				continue
			}
			if f.To != nil && a.Date.After(*f.To) {
				continue
			}
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeSlot < out[j].TimeSlot
	})
	return out, nil
}

func (r *Appointments) Transition(_ context.Context, id bson.ObjectID, from models.AppointmentStatus, update models.AppointmentUpdate) (*models.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status != from {
		return nil, store.ErrStaleWrite
	}
	a.Status = update.Status
	a.SlotActive = update.Status != models.StatusCancelled
	a.UpdatedAt = time.Now().UTC()
	if update.Notes != nil {
		a.Notes = *update.Notes
	}
	if update.Visited != nil {
		a.Visited = *update.Visited
	}
	r.s.appointments[id] = a
	return &a, nil
}

func (r *Appointments) BookedSlots(_ context.Context, doctorID bson.ObjectID, date time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	slots := []string{}
	for _, a := range r.s.appointments {
		if a.Doctor == doctorID && a.Date.Equal(date) && a.Status != models.StatusCancelled {
			slots = append(slots, a.TimeSlot)
		}
	}
	return slots, nil
}

type Records struct{ s *Store }

func (r *Records) Create(_ context.Context, rec *models.HealthRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = bson.NewObjectID()
	}
	r.s.records[rec.ID] = *rec
	return nil
}

func (r *Records) FindByID(_ context.Context, id bson.ObjectID) (*models.HealthRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (r *Records) Find(_ context.Context, f models.HealthRecordFilter) ([]*models.HealthRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.HealthRecord{}
	for _, rec := range r.s.records {
		if f.PatientID != nil && rec.Patient != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && !rec.AuthoredBy(*f.DoctorID) {
			continue
		}
		if f.From != nil && rec.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && rec.Date.After(*f.To) {
			continue
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Records) Update(_ context.Context, id bson.ObjectID, patch models.HealthRecordPatch) (*models.HealthRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	patch.Apply(&rec)
	r.s.records[id] = rec
	return &rec, nil
}

func (r *Records) Delete(_ context.Context, id bson.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.records, id)
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
