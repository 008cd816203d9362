// Package qdrant implements vector.Repository against a Qdrant instance.
// Points are keyed by row id so remote hits map straight back into the
// local lookup table.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adrag/adrag/internal/vector"
)

// Repository implements vector.Repository using Qdrant.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Qdrant-backed repository.
func New(ctx context.Context, host string, port int, collection string) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Repository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection with the given dimension if it does
// not exist yet. Qdrant's cosine distance matches the pipeline's normalized
// inner-product metric.
func (r *Repository) EnsureCollection(ctx context.Context, dim int) error {
	resp, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: r.collection,
	})
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant collection create: %w", err)
	}
	return nil
}

func (r *Repository) Upsert(ctx context.Context, pts []vector.Point) error {
	points := make([]*pb.PointStruct, len(pts))
	for i, p := range pts {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(p.RowID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: p.Vector},
			}},
			Payload: map[string]*pb.Value{
				"row_id": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.RowID)}},
				"pmcid":  {Kind: &pb.Value_StringValue{StringValue: p.PMCID}},
			},
		}
	}

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	return err
}

func (r *Repository) Search(ctx context.Context, vec []float32, topK int) ([]vector.SearchResult, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, err
	}

	results := make([]vector.SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		rowID := int(pt.Id.GetNum())
		if v, ok := pt.Payload["row_id"]; ok {
			rowID = int(v.GetIntegerValue())
		}
		results[i] = vector.SearchResult{RowID: rowID, Score: pt.Score}
	}
	return results, nil
}

// Ping checks that the collection is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: r.collection,
	})
	return err
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

var _ vector.Repository = (*Repository)(nil)
