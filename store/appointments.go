package store

import (
	"context"
	"time"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type AppointmentStore struct {
	coll *mongo.Collection
}

// Create inserts a pending appointment. The partial unique index on
// (doctor, date, timeSlot) rejects a second active booking with
// ErrDuplicateKey.
func (s *AppointmentStore) Create(ctx context.Context, a *models.Appointment) error {
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	a.SlotActive = a.Status != models.StatusCancelled
	_, err := s.coll.InsertOne(ctx, a)
	return translate(err, "failed to insert appointment")
}

func (s *AppointmentStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.Appointment, error) {
	var a models.Appointment
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, translate(err, "failed to find appointment")
	}
	return &a, nil
}

func buildAppointmentQuery(f models.AppointmentFilter) bson.M {
	query := bson.M{}
	if f.PatientID != nil {
		query["patient"] = *f.PatientID
	}
	if f.DoctorID != nil {
		query["doctor"] = *f.DoctorID
	}
	if len(f.Statuses) > 0 {
		query["status"] = bson.M{"$in": f.Statuses}
	}
	if len(f.VisitedOrStatuses) > 0 {
		query["$or"] = []bson.M{
			{"visited": true},
			{"status": bson.M{"$in": f.VisitedOrStatuses}},
		}
	}

	dateQuery := bson.M{}
	if f.From != nil {
		dateQuery["$gte"] = *f.From
	}
	if f.To != nil {
		dateQuery["$lte"] = *f.To
	}
	if f.Date != nil {
		query["date"] = *f.Date
	} else if len(dateQuery) > 0 {
		query["date"] = dateQuery
	}
	return query
}

func (s *AppointmentStore) Find(ctx context.Context, f models.AppointmentFilter) ([]*models.Appointment, error) {
	findOptions := options.Find().SetSort(bson.D{
		{Key: "date", Value: 1},
		{Key: "timeSlot", Value: 1},
	})
	cursor, err := s.coll.Find(ctx, buildAppointmentQuery(f), findOptions)
	if err != nil {
		return nil, translate(err, "failed to query appointments")
	}
	appointments := []*models.Appointment{}
	if err := cursor.All(ctx, &appointments); err != nil {
		return nil, translate(err, "failed to decode appointments")
	}
	return appointments, nil
}

// Transition applies update only if the appointment is still in status
// from. A miss on an existing appointment returns ErrStaleWrite.
func (s *AppointmentStore) Transition(ctx context.Context, id bson.ObjectID, from models.AppointmentStatus, update models.AppointmentUpdate) (*models.Appointment, error) {
	set := bson.M{
		"status":     update.Status,
		"slotActive": update.Status != models.StatusCancelled,
		"updatedAt":  time.Now().UTC(),
	}
	if update.Notes != nil {
		set["notes"] = *update.Notes
	}
	if update.Visited != nil {
		set["visited"] = *update.Visited
	}

	var a models.Appointment
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&a)
	if err == nil {
		return &a, nil
	}
	if err = translate(err, "failed to update appointment"); err != ErrNotFound {
		return nil, err
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStaleWrite
}

// BookedSlots lists the slots held on date by non-cancelled appointments.
func (s *AppointmentStore) BookedSlots(ctx context.Context, doctorID bson.ObjectID, date time.Time) ([]string, error) {
	cursor, err := s.coll.Find(ctx,
		bson.M{
			"doctor": doctorID,
			"date":   date,
			"status": bson.M{"$ne": models.StatusCancelled},
		},
		options.Find().SetProjection(bson.M{"timeSlot": 1}),
	)
	if err != nil {
		return nil, translate(err, "failed to query booked slots")
	}
	var rows []struct {
		TimeSlot string `bson:"timeSlot"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, translate(err, "failed to decode booked slots")
	}
	slots := make([]string, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, r.TimeSlot)
	}
	return slots, nil
}
