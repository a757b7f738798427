// Package events fans appointment lifecycle changes out to the audit log
// and the event stream.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediconnect/backend/models"
	"github.com/pkg/errors"
)

type Type string

const (
	TypeCreated      Type = "appointment.created"
	TypeConfirmed    Type = "appointment.confirmed"
	TypeCompleted    Type = "appointment.completed"
	TypeCancelled    Type = "appointment.cancelled"
	TypeVisited      Type = "appointment.visited"
	TypeNotesUpdated Type = "appointment.notes_updated"
)

// TypeForStatus names the event for a move into status.
func TypeForStatus(from, to models.AppointmentStatus) Type {
	if from == to {
		return TypeNotesUpdated
	}
	switch to {
	case models.StatusConfirmed:
		return TypeConfirmed
	case models.StatusCompleted:
		return TypeCompleted
	case models.StatusCancelled:
		return TypeCancelled
	default:
		return Type("appointment." + string(to))
	}
}

type Event struct {
	ID            uuid.UUID                `json:"id"`
	Type          Type                     `json:"type"`
	AppointmentID string                   `json:"appointmentId"`
	PatientID     string                   `json:"patientId"`
	DoctorID      string                   `json:"doctorId"`
	ActorID       string                   `json:"actorId"`
	ActorRole     models.Role              `json:"actorRole"`
	FromStatus    models.AppointmentStatus `json:"fromStatus,omitempty"`
	ToStatus      models.AppointmentStatus `json:"toStatus"`
	OccurredAt    time.Time                `json:"occurredAt"`
}

// New builds an event for appointment a as it is after the change.
func New(t Type, a *models.Appointment, actorID string, actorRole models.Role, from models.AppointmentStatus) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		AppointmentID: a.ID.Hex(),
		PatientID:     a.Patient.Hex(),
		DoctorID:      a.Doctor.Hex(),
		ActorID:       actorID,
		ActorRole:     actorRole,
		FromStatus:    from,
		ToStatus:      a.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Reader returns the recorded history of one appointment, oldest first.
type Reader interface {
	ListByAppointment(ctx context.Context, appointmentID string) ([]Event, error)
}

// Multi publishes to every sink and reports the first failure.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to publish %s", e.Type)
		}
	}
	return first
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) ListByAppointment(context.Context, string) ([]Event, error) { return []Event{}, nil }

// Memory keeps events in process. It serves the in-memory mode and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) ListByAppointment(_ context.Context, appointmentID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Event{}
	for _, e := range m.events {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// All returns a copy of everything published so far.
func (m *Memory) All() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
