// Package content owns the durable content store: the full-fidelity
// doc_id → content mapping that backs every vector-index entry. Text and
// table chunks keep their complete text; image chunks keep the uploaded
// image URL. One MongoDB collection per modality, mirroring the index's
// type tag.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
)

const (
	textCollection  = "text_chunks"
	imageCollection = "image_chunks"
)

// Store persists content records in MongoDB. Safe for concurrent use.
type Store struct {
	client *mongo.Client
	texts  *mongo.Collection
	images *mongo.Collection
}

// Connect dials MongoDB, verifies the connection, and returns a Store over
// the given database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("content: connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("content: ping mongodb: %w", err)
	}
	db := client.Database(database)
	return &Store{
		client: client,
		texts:  db.Collection(textCollection),
		images: db.Collection(imageCollection),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// collection maps a chunk kind to its modality collection. Tables live with
// text: both store plain text content.
func (s *Store) collection(kind domain.ChunkKind) (*mongo.Collection, error) {
	switch kind {
	case domain.KindText, domain.KindTable:
		return s.texts, nil
	case domain.KindImage:
		return s.images, nil
	default:
		return nil, fmt.Errorf("content: unknown kind %q", kind)
	}
}

// Insert writes a content record. Records are write-once in normal
// operation; re-ingesting an unchanged chunk replaces the record with
// identical content, keeping reruns idempotent.
func (s *Store) Insert(ctx context.Context, kind domain.ChunkKind, rec domain.ContentRecord) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	opts := mongoopts.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"doc_id": rec.DocID}, rec, opts); err != nil {
		return fmt.Errorf("content: insert %s: %w", rec.DocID, err)
	}
	return nil
}

// Find resolves a doc_id to its stored content. A miss returns
// domain.ErrNotFound; callers resolving a live index entry must treat that
// as a dangling reference, not as empty content.
func (s *Store) Find(ctx context.Context, kind domain.ChunkKind, docID string) (string, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return "", err
	}
	var rec domain.ContentRecord
	if err := coll.FindOne(ctx, bson.M{"doc_id": docID}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("content: find %s: %w", docID, err)
	}
	return rec.Content, nil
}
