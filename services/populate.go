package services

import (
	"context"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// summaries loads the listed users with one query. Missing users resolve
// to a summary carrying only the id.
func summaries(ctx context.Context, users UserRepository, ids []bson.ObjectID) (func(bson.ObjectID) models.UserSummary, error) {
	byID := map[bson.ObjectID]models.UserSummary{}
	if len(ids) > 0 {
		found, err := users.Find(ctx, models.UserFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, u := range found {
			byID[u.ID] = u.Summary()
		}
	}
	return func(id bson.ObjectID) models.UserSummary {
		if sum, ok := byID[id]; ok {
			return sum
		}
		return models.UserSummary{ID: id}
	}, nil
}

type idSet struct {
	seen map[bson.ObjectID]bool
	ids  []bson.ObjectID
}

func (s *idSet) add(id bson.ObjectID) {
	if id.IsZero() {
		return
	}
	if s.seen == nil {
		s.seen = map[bson.ObjectID]bool{}
	}
	if !s.seen[id] {
		s.seen[id] = true
		s.ids = append(s.ids, id)
	}
}
