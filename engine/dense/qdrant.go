package dense

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// QdrantStore is a remote dense backend for corpora too large to hold
// in-process. It is the sole owner of all Qdrant operations. Searches run
// with exact=true so ranking stays deterministic and identical to the
// in-process index.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrantStore connects to Qdrant at the given gRPC address.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dense: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error { return q.conn.Close() }

// EnsureCollection creates the collection if it doesn't exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("dense: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("dense: create collection %s: %w", q.collection, err)
	}
	return nil
}

// DeleteCollection drops the collection. Used before a full reindex.
func (q *QdrantStore) DeleteCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("dense: delete collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert stores chunk embeddings. Point IDs are derived deterministically
// from chunk IDs so re-upserts are idempotent.
func (q *QdrantStore) Upsert(ctx context.Context, vectors [][]float32, chunks []domain.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("dense: %w: %d vectors for %d chunks",
			domain.ErrConfiguration, len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.ID)).String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: map[string]*pb.Value{
				"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: c.ID}},
				"content":     {Kind: &pb.Value_StringValue{StringValue: c.Content}},
				"doc_id":      {Kind: &pb.Value_StringValue{StringValue: c.Meta.DocID}},
				"page_number": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Meta.PageNumber)}},
				"source_file": {Kind: &pb.Value_StringValue{StringValue: c.Meta.SourceFile}},
				"split_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Meta.SplitIndex)}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("dense: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search implements Searcher via exact k-NN search.
func (q *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]domain.Candidate, error) {
	exact := true
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Params:         &pb.SearchParams{Exact: &exact},
	})
	if err != nil {
		return nil, fmt.Errorf("dense: qdrant search: %w", err)
	}

	results := make([]domain.Candidate, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		results[i] = domain.Candidate{
			Score: float64(r.GetScore()),
			Chunk: domain.Chunk{
				ID:      payload["chunk_id"].GetStringValue(),
				Content: payload["content"].GetStringValue(),
				Meta: domain.ChunkMeta{
					DocID:      payload["doc_id"].GetStringValue(),
					PageNumber: int(payload["page_number"].GetIntegerValue()),
					SourceFile: payload["source_file"].GetStringValue(),
					SplitIndex: int(payload["split_index"].GetIntegerValue()),
				},
			},
		}
	}
	return results, nil
}
