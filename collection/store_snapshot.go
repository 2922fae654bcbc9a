package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotDocument is the durable form of the index. Only the date sequence
// is persisted; coordinator state never leaves the process. The schema is an
// explicit serialize/deserialize pair, decoupled from the in-memory DateSet.
type SnapshotDocument struct {
	Dates []string `json:"dates"`
}

// SnapshotStore persists and retrieves the index snapshot.
type SnapshotStore interface {
	// Get downloads and parses the snapshot. Returns ErrSnapshotNotFound if
	// absent and ErrSnapshotDecode if the persisted form is malformed.
	Get(ctx context.Context) (*SnapshotDocument, error)

	// Put publishes the snapshot, replacing any prior version in full.
	Put(ctx context.Context, doc *SnapshotDocument) error
}

const (
	defaultSnapshotKey  = "manifest.json"
	snapshotContentType = "application/json"
)

// BlobSnapshotStore keeps the snapshot as a small JSON blob on a BlobStore,
// at a well-known key relative to the store's data prefix.
type BlobSnapshotStore struct {
	Store BlobStore
	Key   string // defaults to defaultSnapshotKey
}

func (s *BlobSnapshotStore) key() string {
	if s.Key == "" {
		return defaultSnapshotKey
	}
	return s.Key
}

func (s *BlobSnapshotStore) Get(ctx context.Context) (*SnapshotDocument, error) {
	data, err := s.Store.Get(ctx, s.key())
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, s.key())
		}
		return nil, err
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotDecode, s.key(), err)
	}
	return &doc, nil
}

func (s *BlobSnapshotStore) Put(ctx context.Context, doc *SnapshotDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.Store.Put(ctx, s.key(), data, snapshotContentType)
}
