package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStaleWrite means a guarded update matched nothing because the
	// record changed since it was read.
	ErrStaleWrite = errors.New("record modified concurrently")
)

const (
	usersCollection         = "users"
	profilesCollection      = "profiles"
	appointmentsCollection  = "appointments"
	healthRecordsCollection = "healthrecords"
)

// Mongo owns the client and hands out per-collection stores.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect dials MongoDB, retrying with a linear backoff until the server
// answers a ping.
func Connect(ctx context.Context, uri, dbName string, logger *zap.Logger) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mongo client")
	}

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		if err = client.Ping(ctx, nil); err == nil {
			break
		}
		logger.Warn("failed to connect to mongodb, retrying...",
			zap.Error(err),
			zap.Int("attempt", i+1))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrapf(err, "mongodb connection failed after %d attempts", maxRetries)
	}

	return &Mongo{client: client, db: client.Database(dbName), logger: logger}, nil
}

func (m *Mongo) Disconnect(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Users() *UserStore {
	return &UserStore{coll: m.db.Collection(usersCollection)}
}

func (m *Mongo) Profiles() *ProfileStore {
	return &ProfileStore{coll: m.db.Collection(profilesCollection)}
}

func (m *Mongo) Appointments() *AppointmentStore {
	return &AppointmentStore{coll: m.db.Collection(appointmentsCollection)}
}

func (m *Mongo) HealthRecords() *HealthRecordStore {
	return &HealthRecordStore{coll: m.db.Collection(healthRecordsCollection)}
}

// EnsureIndexes creates the indexes the stores rely on for uniqueness.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("email_unique"),
			},
			{
				Keys: bson.D{{Key: "role", Value: 1}, {Key: "name", Value: 1}},
			},
		},
		profilesCollection: {
			{
				Keys:    bson.D{{Key: "user", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("user_unique"),
			},
		},
		appointmentsCollection: {
			{
				Keys: bson.D{
					{Key: "doctor", Value: 1},
					{Key: "date", Value: 1},
					{Key: "timeSlot", Value: 1},
				},
				Options: options.Index().
					SetUnique(true).
					SetName("doctor_slot_unique").
					SetPartialFilterExpression(bson.M{"slotActive": true}),
			},
			{
				Keys: bson.D{{Key: "patient", Value: 1}, {Key: "date", Value: 1}},
			},
		},
		healthRecordsCollection: {
			{
				Keys: bson.D{{Key: "patient", Value: 1}, {Key: "date", Value: -1}},
			},
			{
				Keys: bson.D{{Key: "doctor", Value: 1}, {Key: "date", Value: -1}},
			},
		},
	}

	for name, models := range indexes {
		created, err := m.db.Collection(name).Indexes().CreateMany(ctx, models)
		if err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", name)
		}
		m.logger.Info("indexes verified",
			zap.String("collection", name),
			zap.Strings("indexes", created))
	}
	return nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicateKey
	default:
		return errors.Wrap(err, op)
	}
}
