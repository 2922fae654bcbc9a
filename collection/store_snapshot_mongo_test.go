package collection

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoTestCollection connects to the MongoDB named by
// S3COLLECTION_TEST_MONGO_URI, or skips the test when it is unset.
func mongoTestCollection(t *testing.T) *mongo.Collection {
	t.Helper()

	uri := os.Getenv("S3COLLECTION_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("S3COLLECTION_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	coll := client.Database("s3collection_test").Collection("snapshots_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = coll.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return coll
}

func TestMongoSnapshotStoreMissing(t *testing.T) {
	store := NewMongoSnapshotStore(mongoTestCollection(t), "")

	_, err := store.Get(context.Background())
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMongoSnapshotStoreRoundtrip(t *testing.T) {
	store := NewMongoSnapshotStore(mongoTestCollection(t), "")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &SnapshotDocument{Dates: []string{"2020-01-01", "2020-01-02"}}))

	doc, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-01-01", "2020-01-02"}, doc.Dates)

	// a second put replaces the document in full
	require.NoError(t, store.Put(ctx, &SnapshotDocument{Dates: []string{"2020-02-02"}}))
	doc, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-02-02"}, doc.Dates)
}

func TestMongoSnapshotStoreSeparateIDs(t *testing.T) {
	coll := mongoTestCollection(t)
	a := NewMongoSnapshotStore(coll, "tenant-a")
	b := NewMongoSnapshotStore(coll, "tenant-b")
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, &SnapshotDocument{Dates: []string{"2020-03-03"}}))

	_, err := b.Get(ctx)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	doc, err := a.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-03-03"}, doc.Dates)
}
