package store

import (
	"context"
	"regexp"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type UserStore struct {
	coll *mongo.Collection
}

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, u)
	return translate(err, "failed to insert user")
}

func (s *UserStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, translate(err, "failed to find user")
	}
	return &u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, translate(err, "failed to find user by email")
	}
	return &u, nil
}

func (s *UserStore) Find(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	filter := bson.M{}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.Specialization != "" {
		filter["doctor.specialization"] = bson.M{"$regex": regexp.QuoteMeta(f.Specialization), "$options": "i"}
	}
	if f.Name != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(f.Name), "$options": "i"}
	}
	if f.IDs != nil {
		filter["_id"] = bson.M{"$in": f.IDs}
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, translate(err, "failed to query users")
	}
	users := []*models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, translate(err, "failed to decode users")
	}
	return users, nil
}

func (s *UserStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err, "failed to delete user")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddServedPatient records patientID against the doctor and bumps the
// counter in a single conditional update. It reports whether the patient
// was newly added.
func (s *UserStore) AddServedPatient(ctx context.Context, doctorID, patientID bson.ObjectID) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":                   doctorID,
			"role":                  models.RoleDoctor,
			"doctor.patientsServed": bson.M{"$ne": patientID},
		},
		bson.M{
			"$push": bson.M{"doctor.patientsServed": patientID},
			"$inc":  bson.M{"doctor.patientsCount": 1},
		},
	)
	if err != nil {
		return false, translate(err, "failed to update served patients")
	}
	return res.ModifiedCount == 1, nil
}
