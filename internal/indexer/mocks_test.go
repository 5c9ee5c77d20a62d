package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/storage"
	"github.com/dshills/vectorize/pkg/types"
)

// mockEmbedder returns vectors of a fixed size and counts the texts it sees
type mockEmbedder struct {
	mu         sync.Mutex
	dimension  int
	hideDim    bool // report 0 from Dimension, like a remote before its first answer
	model      string
	calls      int
	texts      int
	failOnCall map[int]error
	onCall     func(call int)
}

func newMockEmbedder(dim int) *mockEmbedder {
	return &mockEmbedder{dimension: dim, model: "mock-v1", failOnCall: map[int]error{}}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	hook := m.onCall
	failErr := m.failOnCall[call]
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}

	m.mu.Lock()
	m.texts += len(req.Texts)
	m.mu.Unlock()

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		vec := make([]float32, m.dimension)
		vec[0] = float32(len(text))
		embeddings[i] = &embedder.Embedding{
			Vector:    vec,
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     m.model,
		}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: m.model}, nil
}

func (m *mockEmbedder) Dimension() int {
	if m.hideDim {
		return 0
	}
	return m.dimension
}
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return m.model }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) textCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// memStore is an in-memory VectorStore
type memStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
	upserts     int
	deletes     int
	failUpsert  map[int]error // keyed by upsert call number
	pingErr     error
	openErr     error
}

type memCollection struct {
	dimension int
	model     string
	records   map[string]types.CollectionRecord
}

func newMemStore() *memStore {
	return &memStore{collections: map[string]*memCollection{}, failUpsert: map[int]error{}}
}

func (s *memStore) OpenCollection(ctx context.Context, name string) (*storage.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	mc, ok := s.collections[name]
	if !ok {
		mc = &memCollection{records: map[string]types.CollectionRecord{}}
		s.collections[name] = mc
	}
	return &storage.Collection{Name: name, Dimension: mc.dimension, EmbeddingModel: mc.model}, nil
}

func (s *memStore) FindCollection(ctx context.Context, name string) (*storage.Collection, error) {
	s.mu.Lock()
	mc, ok := s.collections[name]
	s.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Collection{Name: name, Dimension: mc.dimension, EmbeddingModel: mc.model}, nil
}

func (s *memStore) Upsert(ctx context.Context, c *storage.Collection, records []types.CollectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if err := s.failUpsert[s.upserts]; err != nil {
		return err
	}
	mc := s.collections[c.Name]
	for _, rec := range records {
		if mc.dimension == 0 {
			mc.dimension = len(rec.Embedding)
			mc.model = rec.Metadata.EmbeddingModel
		}
		if len(rec.Embedding) != mc.dimension {
			return fmt.Errorf("%w: %d != %d", types.ErrDimensionMismatch, len(rec.Embedding), mc.dimension)
		}
	}
	for _, rec := range records {
		mc.records[rec.ID] = rec
	}
	c.Dimension = mc.dimension
	c.EmbeddingModel = mc.model
	return nil
}

func (s *memStore) DeleteBySource(ctx context.Context, c *storage.Collection, sourcePaths []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	drop := map[string]bool{}
	for _, p := range sourcePaths {
		drop[p] = true
	}
	n := 0
	mc := s.collections[c.Name]
	for id, rec := range mc.records {
		if drop[rec.Metadata.SourcePath] {
			delete(mc.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Count(ctx context.Context, c *storage.Collection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[c.Name].records), nil
}

func (s *memStore) Get(ctx context.Context, c *storage.Collection, id string) (*types.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.collections[c.Name].records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStore) Close() error { return nil }

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// records returns the records of the only collection, by source path
func (s *memStore) recordsBySource() map[string][]types.CollectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]types.CollectionRecord{}
	for _, mc := range s.collections {
		for _, rec := range mc.records {
			out[rec.Metadata.SourcePath] = append(out[rec.Metadata.SourcePath], rec)
		}
	}
	for _, recs := range out {
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	}
	return out
}

func (s *memStore) total() int {
	n := 0
	for _, recs := range s.recordsBySource() {
		n += len(recs)
	}
	return n
}

// recordingReporter keeps every progress call
type recordingReporter struct {
	mu      sync.Mutex
	scans   []string
	skips   []string
	chunked []int
	batches [][2]int
	warns   []string
}

func (r *recordingReporter) Scan(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, root)
}

func (r *recordingReporter) Scanned(string, int, time.Duration) {}

func (r *recordingReporter) Skip(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, path)
}

func (r *recordingReporter) Chunked(_ string, chunks int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunked = append(r.chunked, chunks)
}

func (r *recordingReporter) Batch(processed, total int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, [2]int{processed, total})
}

func (r *recordingReporter) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

// writeFile creates dir/name with content and returns its absolute path
func writeFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

// prose returns roughly n bytes of line and paragraph structured text
func prose(seed string, n int) string {
	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}
	var out []byte
	for i := 0; len(out) < n; i++ {
		out = append(out, words[i%len(words)]...)
		switch {
		case i%40 == 39:
			out = append(out, "\n\n"...)
		case i%10 == 9:
			out = append(out, '\n')
		default:
			out = append(out, ' ')
		}
		if i%7 == 0 {
			out = append(out, seed...)
			out = append(out, ' ')
		}
	}
	return string(out[:n])
}

var errBoom = errors.New("boom")
