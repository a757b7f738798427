package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/mediconnect/backend/models"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "op"))
	assert.Equal(t, ErrNotFound, translate(mongo.ErrNoDocuments, "op"))
	assert.Equal(t, ErrNotFound, translate(fmt.Errorf("wrapped: %w", mongo.ErrNoDocuments), "op"))

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
	assert.Equal(t, ErrDuplicateKey, translate(dup, "op"))

	err := translate(fmt.Errorf("connection reset"), "failed to insert user")
	assert.EqualError(t, err, "failed to insert user: connection reset")
}

func TestBuildAppointmentQuery(t *testing.T) {
	doctor := bson.NewObjectID()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	q := buildAppointmentQuery(models.AppointmentFilter{
		DoctorID: &doctor,
		Statuses: []models.AppointmentStatus{models.StatusConfirmed, models.StatusCompleted},
		From:     &from,
		To:       &to,
	})
	assert.Equal(t, doctor, q["doctor"])
	assert.Equal(t, bson.M{"$in": []models.AppointmentStatus{models.StatusConfirmed, models.StatusCompleted}}, q["status"])
	assert.Equal(t, bson.M{"$gte": from, "$lte": to}, q["date"])
	assert.NotContains(t, q, "patient")

	q = buildAppointmentQuery(models.AppointmentFilter{
		DoctorID:          &doctor,
		VisitedOrStatuses: []models.AppointmentStatus{models.StatusConfirmed},
	})
	assert.Len(t, q["$or"], 2)
	assert.NotContains(t, q, "date")

	q = buildAppointmentQuery(models.AppointmentFilter{Date: &from, From: &from})
	assert.Equal(t, from, q["date"])
}
