package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadParagraphID = "paragraph_id"
	payloadArticleID   = "article_id"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the paragraph collection with cosine distance if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// Upsert inserts or updates paragraph vectors
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.ParagraphID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadParagraphID: qdrant.NewValueString(p.ParagraphID),
				payloadArticleID:   qdrant.NewValueString(p.ArticleID),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Vectors fetches stored vectors by paragraph id
func (s *QdrantStore) Vectors(ctx context.Context, paragraphIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(paragraphIDs))
	if len(paragraphIDs) == 0 {
		return out, nil
	}

	ids := make([]*qdrant.PointId, len(paragraphIDs))
	for i, id := range paragraphIDs {
		ids[i] = qdrant.NewIDUUID(PointID(id))
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}

	for _, point := range points {
		paragraphID := point.GetPayload()[payloadParagraphID].GetStringValue()
		if vec := denseVector(point.GetVectors()); paragraphID != "" && len(vec) > 0 {
			out[paragraphID] = vec
		}
	}
	return out, nil
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	v := vectors.GetVector()
	if v == nil {
		return nil
	}
	if dense := v.GetDense(); dense != nil {
		return dense.GetData()
	}
	return v.GetData()
}

// DeleteArticle removes the points of an article
func (s *QdrantStore) DeleteArticle(ctx context.Context, articleID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(payloadArticleID, articleID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete article %s: %w", articleID, err)
	}

	return nil
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
