package storage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/pkg/types"
)

// Payload keys written with every point
const (
	payloadChunkID        = "chunk_id"
	payloadDocument       = "document"
	payloadSourcePath     = "sourcePath"
	payloadEmbeddingModel = "embeddingModel"
	payloadLastUpdated    = "lastUpdated"
)

// pointNamespace derives Qdrant point UUIDs from chunk ids
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dshills/vectorize/chunk"))

// QdrantStore implements VectorStore on a Qdrant server over gRPC
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore connects to Qdrant. urlStr is the HTTP address
// ("http://localhost:6333"); the gRPC port is the HTTP port + 1, or 6334.
func NewQdrantStore(urlStr string) (*QdrantStore, error) {
	host, port, err := qdrantAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func qdrantAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if p := parsedURL.Port(); p != "" {
		httpPort, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid Qdrant port %q: %w", p, err)
		}
		port = httpPort + 1
	}
	return host, port, nil
}

// pointID maps a chunk id onto the UUID space Qdrant accepts
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// OpenCollection does not create anything: Qdrant needs the vector size up
// front, so creation waits for the first Upsert.
func (s *QdrantStore) OpenCollection(ctx context.Context, name string) (*Collection, error) {
	c, err := s.FindCollection(ctx, name)
	if err == ErrNotFound {
		return &Collection{Name: name}, nil
	}
	return c, err
}

func (s *QdrantStore) FindCollection(ctx context.Context, name string) (*Collection, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	dim, err := s.vectorSize(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Collection{Name: name, Dimension: dim}, nil
}

func (s *QdrantStore) vectorSize(ctx context.Context, name string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	if config := info.Config; config != nil && config.Params != nil {
		if params := config.Params.GetVectorsConfig().GetParams(); params != nil {
			return int(params.Size), nil
		}
	}
	return 0, fmt.Errorf("collection %s has no vector params", name)
}

// ensureCollection creates the collection with dim, or validates the one a
// concurrent writer created.
func (s *QdrantStore) ensureCollection(ctx context.Context, c *Collection, dim int) error {
	logger := contextutil.LoggerFromContext(ctx)

	existing, err := s.FindCollection(ctx, c.Name)
	if err == nil {
		if existing.Dimension != dim {
			return fmt.Errorf("%w: collection %s has %d, got %d", types.ErrDimensionMismatch, c.Name, existing.Dimension, dim)
		}
		return nil
	}
	if err != ErrNotFound {
		return err
	}

	logger.InfoContext(ctx, "creating collection", "collection", c.Name, "vector_size", dim)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: c.Name,
		Wait:           qdrant.PtrOf(true),
		FieldName:      payloadSourcePath,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to index sourcePath payload", "collection", c.Name, "error", err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, c *Collection, records []types.CollectionRecord) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}
	dim, err := checkDimensions(c.Dimension, records)
	if err != nil {
		return err
	}
	if c.Dimension == 0 {
		if err := s.ensureCollection(ctx, c, dim); err != nil {
			return err
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(rec.ID)),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: qdrant.NewValueMap(recordPayload(rec)),
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", c.Name, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	if c.Dimension == 0 {
		c.Dimension = dim
		c.EmbeddingModel = records[0].Metadata.EmbeddingModel
	}
	logger.DebugContext(ctx, "upserted points", "collection", c.Name, "count", len(points))
	return nil
}

func recordPayload(rec types.CollectionRecord) map[string]any {
	return map[string]any{
		payloadChunkID:        rec.ID,
		payloadDocument:       rec.Document,
		payloadSourcePath:     rec.Metadata.SourcePath,
		payloadEmbeddingModel: rec.Metadata.EmbeddingModel,
		payloadLastUpdated:    rec.Metadata.LastUpdatedString(),
	}
}

func sourceFilter(sourcePaths []string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(sourcePaths))
	for _, p := range sourcePaths {
		conditions = append(conditions, qdrant.NewMatchKeyword(payloadSourcePath, p))
	}
	return &qdrant.Filter{Should: conditions}
}

// DeleteBySource counts the matching points first since Qdrant deletes do
// not report how many points they removed.
func (s *QdrantStore) DeleteBySource(ctx context.Context, c *Collection, sourcePaths []string) (int, error) {
	if len(sourcePaths) == 0 || c.Dimension == 0 {
		return 0, nil
	}
	filter := sourceFilter(sourcePaths)

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.Name,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.Name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Count(ctx context.Context, c *Collection) (int, error) {
	if c.Dimension == 0 {
		return 0, nil
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.Name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Get(ctx context.Context, c *Collection, id string) (*types.CollectionRecord, error) {
	if c.Dimension == 0 {
		return nil, ErrNotFound
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.Name,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}
	return recordFromPoint(points[0])
}

func recordFromPoint(p *qdrant.RetrievedPoint) (*types.CollectionRecord, error) {
	payload := p.GetPayload()
	str := func(key string) string {
		return payload[key].GetStringValue()
	}

	rec := &types.CollectionRecord{
		ID:       str(payloadChunkID),
		Document: str(payloadDocument),
		Metadata: types.RecordMetadata{
			SourcePath:     str(payloadSourcePath),
			EmbeddingModel: str(payloadEmbeddingModel),
		},
	}
	if v := p.GetVectors().GetVector(); v != nil {
		rec.Embedding = v.GetDense().GetData()
		if len(rec.Embedding) == 0 {
			rec.Embedding = v.GetData() //nolint:staticcheck // servers before 1.16 only fill the flat field
		}
	}

	if ts := str(payloadLastUpdated); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("point %s has invalid lastUpdated %q: %w", rec.ID, ts, err)
		}
		rec.Metadata.LastUpdated = t
	}
	return rec, nil
}
