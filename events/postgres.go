package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediconnect/backend/models"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointment_events (
	id             UUID PRIMARY KEY,
	type           TEXT NOT NULL,
	appointment_id TEXT NOT NULL,
	patient_id     TEXT NOT NULL,
	doctor_id      TEXT NOT NULL,
	actor_id       TEXT NOT NULL,
	actor_role     TEXT NOT NULL,
	from_status    TEXT NOT NULL DEFAULT '',
	to_status      TEXT NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS appointment_events_appointment_idx
	ON appointment_events (appointment_id, occurred_at);
`

// PostgresSink writes the appointment audit trail.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create appointment_events table")
	}
	return nil
}

func (s *PostgresSink) Publish(ctx context.Context, e Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO appointment_events
			(id, type, appointment_id, patient_id, doctor_id, actor_id, actor_role, from_status, to_status, occurred_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), string(e.Type), e.AppointmentID, e.PatientID, e.DoctorID,
		e.ActorID, string(e.ActorRole), string(e.FromStatus), string(e.ToStatus), e.OccurredAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert appointment event")
	}
	return nil
}

func (s *PostgresSink) ListByAppointment(ctx context.Context, appointmentID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, type, appointment_id, patient_id, doctor_id, actor_id, actor_role, from_status, to_status, occurred_at
		 FROM appointment_events
		 WHERE appointment_id = $1
		 ORDER BY occurred_at`, appointmentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query appointment events")
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e                                   Event
			id, typ, role, fromStatus, toStatus string
		)
		if err := rows.Scan(&id, &typ, &e.AppointmentID, &e.PatientID, &e.DoctorID,
			&e.ActorID, &role, &fromStatus, &toStatus, &e.OccurredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan appointment event")
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrap(err, "invalid appointment event id")
		}
		e.Type = Type(typ)
		e.ActorRole = models.Role(role)
		e.FromStatus = models.AppointmentStatus(fromStatus)
		e.ToStatus = models.AppointmentStatus(toStatus)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate appointment events")
	}
	return out, nil
}
