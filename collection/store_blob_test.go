package collection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apicomponents/s3-collection/collection/testutil"
)

// runBlobStoreSuite exercises the BlobStore contract against any backend.
func runBlobStoreSuite(t *testing.T, store BlobStore) {
	ctx := context.Background()

	t.Run("get_missing", func(t *testing.T) {
		_, err := store.Get(ctx, "views/absent.json")
		require.ErrorIs(t, err, ErrBlobNotFound)
	})

	t.Run("put_get_roundtrip", func(t *testing.T) {
		data := []byte(`{"dates":["2020-01-01"]}`)
		require.NoError(t, store.Put(ctx, "manifest.json", data, "application/json"))

		got, err := store.Get(ctx, "manifest.json")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("put_overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "views/2020-02-02.json", []byte("v1"), ""))
		require.NoError(t, store.Put(ctx, "views/2020-02-02.json", []byte("v2"), ""))

		got, err := store.Get(ctx, "views/2020-02-02.json")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("list_prefix", func(t *testing.T) {
		for _, key := range []string{
			"views/2020-03-01.json",
			"views/2020-03-02.json",
			"views/nested/2020-03-03.json",
			"other/2020-03-04.json",
		} {
			require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
		}

		items, err := store.List(ctx, "views/")
		require.NoError(t, err)

		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.Key)
		}
		assert.Contains(t, keys, "views/2020-03-01.json")
		assert.Contains(t, keys, "views/2020-03-02.json")
		assert.Contains(t, keys, "views/nested/2020-03-03.json")
		assert.NotContains(t, keys, "other/2020-03-04.json")
		assert.IsIncreasing(t, keys)
	})

	t.Run("list_empty_prefix_namespace", func(t *testing.T) {
		items, err := store.List(ctx, "nothing-here/")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("cancelled_ctx", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Get(cancelled, "manifest.json")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalBlobStore(t *testing.T) {
	store := &LocalBlobStore{Root: t.TempDir()}
	runBlobStoreSuite(t, store)
}

func TestLocalBlobStoreListMissingRoot(t *testing.T) {
	store := &LocalBlobStore{Root: t.TempDir() + "/does-not-exist"}
	items, err := store.List(context.Background(), "views/")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestS3BlobStore(t *testing.T) {
	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "collection-test")
	require.NoError(t, err)
	defer mock.Close()

	store := NewS3BlobStore(mock.Client, mock.Bucket, "")
	runBlobStoreSuite(t, store)
}

func TestS3BlobStorePrefix(t *testing.T) {
	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "collection-prefix-test")
	require.NoError(t, err)
	defer mock.Close()

	a := NewS3BlobStore(mock.Client, mock.Bucket, "tenants/a/")
	b := NewS3BlobStore(mock.Client, mock.Bucket, "tenants/b/")

	require.NoError(t, a.Put(ctx, "views/2020-01-01.json", []byte("a"), ""))
	require.NoError(t, b.Put(ctx, "views/2020-01-02.json", []byte("b"), ""))

	// keys come back relative to the store's own prefix
	items, err := a.List(ctx, "views/")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "views/2020-01-01.json", items[0].Key)

	got, err := a.Get(ctx, "views/2020-01-01.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	_, err = a.Get(ctx, "views/2020-01-02.json")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestS3BlobStoreListCapsAtSinglePage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 1000+ object upload in short mode")
	}

	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "collection-paging-test")
	require.NoError(t, err)
	defer mock.Close()

	store := NewS3BlobStore(mock.Client, mock.Bucket, "")
	for i := 0; i < 1005; i++ {
		key := fmt.Sprintf("views/%04d-2020-01-01.json", i)
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	items, err := store.List(ctx, "views/")
	require.NoError(t, err)
	assert.Len(t, items, 1000, "a single page is requested, the rest is truncated")
}
