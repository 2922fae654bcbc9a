package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoSnapshotDoc is the BSON document schema for snapshot storage.
type mongoSnapshotDoc struct {
	ID        string    `json:"_id" bson:"_id"`
	Dates     []string  `json:"dates" bson:"dates"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

const defaultMongoSnapshotID = "manifest"

// MongoSnapshotStore implements SnapshotStore backed by a MongoDB collection,
// for deployments that keep the index document next to other metadata. The
// listing rebuild still runs against the object store; only the snapshot
// document moves. The caller owns the mongo.Client lifecycle.
type MongoSnapshotStore struct {
	Collection *mongo.Collection
	ID         string // document id; defaults to defaultMongoSnapshotID
}

// NewMongoSnapshotStore creates a MongoSnapshotStore from a *mongo.Collection.
func NewMongoSnapshotStore(collection *mongo.Collection, id string) *MongoSnapshotStore {
	return &MongoSnapshotStore{Collection: collection, ID: id}
}

func (s *MongoSnapshotStore) docID() string {
	if s.ID == "" {
		return defaultMongoSnapshotID
	}
	return s.ID
}

func (s *MongoSnapshotStore) Get(ctx context.Context) (*SnapshotDocument, error) {
	var doc mongoSnapshotDoc
	err := s.Collection.FindOne(ctx, bson.M{"_id": s.docID()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, s.docID())
		}
		return nil, err
	}
	return &SnapshotDocument{Dates: doc.Dates}, nil
}

func (s *MongoSnapshotStore) Put(ctx context.Context, doc *SnapshotDocument) error {
	_, err := s.Collection.ReplaceOne(ctx,
		bson.M{"_id": s.docID()},
		mongoSnapshotDoc{
			ID:        s.docID(),
			Dates:     doc.Dates,
			UpdatedAt: time.Now().UTC(),
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", s.docID(), err)
	}
	return nil
}
