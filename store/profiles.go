package store

import (
	"context"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type ProfileStore struct {
	coll *mongo.Collection
}

func (s *ProfileStore) FindByUser(ctx context.Context, userID bson.ObjectID) (*models.Profile, error) {
	var p models.Profile
	if err := s.coll.FindOne(ctx, bson.M{"user": userID}).Decode(&p); err != nil {
		return nil, translate(err, "failed to find profile")
	}
	return &p, nil
}

func (s *ProfileStore) Create(ctx context.Context, p *models.Profile) error {
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, p)
	return translate(err, "failed to insert profile")
}

func (s *ProfileStore) DeleteByUser(ctx context.Context, userID bson.ObjectID) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"user": userID})
	return translate(err, "failed to delete profile")
}

func (s *ProfileStore) SetPicture(ctx context.Context, userID bson.ObjectID, url string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user": userID},
		bson.M{"$set": bson.M{"pictureUrl": url}},
	)
	if err != nil {
		return translate(err, "failed to update profile picture")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
