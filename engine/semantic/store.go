// Package semantic owns all vector-index operations: collection lifecycle,
// batched upserts of summary embeddings, and top-k similarity search.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
)

// MaxBatchSize is the largest upsert the backend accepts in one request.
// Callers slice larger batches (see engine/ingest).
const MaxBatchSize = 100

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// dims is the collection's vector dimension; upserts with any other length
// are rejected before they reach the wire.
func New(addr, collection string, dims int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection (cosine distance) if it doesn't
// already exist. Safe to call on every startup.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert writes one slice of records, at most MaxBatchSize. Write-or-replace
// by id, so retrying with the same deterministic ids is idempotent.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("semantic: batch of %d exceeds max %d", len(records), MaxBatchSize)
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if err := domain.ValidateVector(r.Vector, v.dims); err != nil {
			return fmt.Errorf("semantic: record %s: %w", r.ID, err)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"type":    {Kind: &pb.Value_StringValue{StringValue: string(r.Type)}},
				"summary": {Kind: &pb.Value_StringValue{StringValue: r.Summary}},
				"doc_id":  {Kind: &pb.Value_StringValue{StringValue: r.ID}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search returns up to topK nearest entries by cosine similarity, highest
// first, with payload metadata included. Order among exact score ties is
// backend-defined.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	if err := domain.ValidateVector(embedding, v.dims); err != nil {
		return nil, fmt.Errorf("semantic: query vector: %w", err)
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			DocID: r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		for k, val := range r.GetPayload() {
			s := val.GetStringValue()
			switch k {
			case "type":
				sr.Type = domain.ChunkKind(s)
			case "summary":
				sr.Summary = s
			case "doc_id":
				sr.DocID = s
			}
		}
		results[i] = sr
	}
	return results, nil
}
