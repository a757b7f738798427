package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// StatusAll is the list filter value that disables status filtering.
const StatusAll = "all"

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

func (s AppointmentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether next is reachable from s. Re-applying the
// current status of a non-terminal appointment is allowed.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TimeSlots is the fixed set of daily one-hour slots, in wall-clock order.
var TimeSlots = []string{
	"9:00 AM",
	"10:00 AM",
	"11:00 AM",
	"12:00 PM",
	"1:00 PM",
	"2:00 PM",
	"3:00 PM",
	"4:00 PM",
}

// SlotIndex returns the chronological position of slot, or -1.
func SlotIndex(slot string) int {
	for i, s := range TimeSlots {
		if s == slot {
			return i
		}
	}
	return -1
}

func IsValidSlot(slot string) bool {
	return SlotIndex(slot) >= 0
}

// ParseCalendarDate accepts "2006-01-02" or an RFC3339 timestamp and returns
// midnight UTC of that calendar day.
func ParseCalendarDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

type Appointment struct {
	ID       bson.ObjectID     `bson:"_id,omitempty" json:"id"`
	Patient  bson.ObjectID     `bson:"patient" json:"patient"`
	Doctor   bson.ObjectID     `bson:"doctor" json:"doctor"`
	Date     time.Time         `bson:"date" json:"date"`
	TimeSlot string            `bson:"timeSlot" json:"timeSlot"`
	Reason   string            `bson:"reason" json:"reason"`
	Status   AppointmentStatus `bson:"status" json:"status"`
	Visited  bool              `bson:"visited" json:"visited"`
	Notes    string            `bson:"notes" json:"notes"`
	// SlotActive marks the appointment as holding its (doctor, date, timeSlot)
	// slot. The unique index only covers active appointments.
	SlotActive bool      `bson:"slotActive" json:"-"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// AppointmentUpdate is applied by a status-guarded write.
type AppointmentUpdate struct {
	Status  AppointmentStatus
	Notes   *string
	Visited *bool
}

type AppointmentFilter struct {
	PatientID *bson.ObjectID
	DoctorID  *bson.ObjectID
	Statuses  []AppointmentStatus
	From      *time.Time
	To        *time.Time
	Date      *time.Time
	// VisitedOrStatuses matches appointments that are visited or in any of
	// the listed statuses.
	VisitedOrStatuses []AppointmentStatus
}

// AppendNote adds line to notes on its own line, keeping existing content.
func AppendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func CancellationNote(role Role, at time.Time) string {
	return fmt.Sprintf("Cancelled by %s on %s", role, at.UTC().Format(time.RFC3339))
}
