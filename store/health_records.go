package store

import (
	"context"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type HealthRecordStore struct {
	coll *mongo.Collection
}

func (s *HealthRecordStore) Create(ctx context.Context, r *models.HealthRecord) error {
	if r.ID.IsZero() {
		r.ID = bson.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, r)
	return translate(err, "failed to insert health record")
}

func (s *HealthRecordStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.HealthRecord, error) {
	var r models.HealthRecord
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, translate(err, "failed to find health record")
	}
	return &r, nil
}

// Find returns matching records, newest first.
func (s *HealthRecordStore) Find(ctx context.Context, f models.HealthRecordFilter) ([]*models.HealthRecord, error) {
	query := bson.M{}
	if f.PatientID != nil {
		query["patient"] = *f.PatientID
	}
	if f.DoctorID != nil {
		query["doctor"] = *f.DoctorID
	}
	dateQuery := bson.M{}
	if f.From != nil {
		dateQuery["$gte"] = *f.From
	}
	if f.To != nil {
		dateQuery["$lte"] = *f.To
	}
	if len(dateQuery) > 0 {
		query["date"] = dateQuery
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	if f.Limit > 0 {
		findOptions.SetLimit(f.Limit)
	}
	cursor, err := s.coll.Find(ctx, query, findOptions)
	if err != nil {
		return nil, translate(err, "failed to query health records")
	}
	records := []*models.HealthRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, translate(err, "failed to decode health records")
	}
	return records, nil
}

func (s *HealthRecordStore) Update(ctx context.Context, id bson.ObjectID, patch models.HealthRecordPatch) (*models.HealthRecord, error) {
	set := bson.M{}
	if patch.Date != nil {
		set["date"] = *patch.Date
	}
	if patch.BloodPressure != nil {
		set["bloodPressure"] = patch.BloodPressure
	}
	if patch.HeartRate != nil {
		set["heartRate"] = *patch.HeartRate
	}
	if patch.Weight != nil {
		set["weight"] = *patch.Weight
	}
	if patch.GlucoseLevel != nil {
		set["glucoseLevel"] = *patch.GlucoseLevel
	}
	if patch.Symptoms != nil {
		set["symptoms"] = *patch.Symptoms
	}
	if patch.Medications != nil {
		set["medications"] = *patch.Medications
	}
	if patch.Notes != nil {
		set["notes"] = *patch.Notes
	}
	if len(set) == 0 {
		return s.FindByID(ctx, id)
	}

	var r models.HealthRecord
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err != nil {
		return nil, translate(err, "failed to update health record")
	}
	return &r, nil
}

func (s *HealthRecordStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err, "failed to delete health record")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
