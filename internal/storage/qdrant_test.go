package storage

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vectorize/pkg/types"
)

func TestQdrantAddress(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{url: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{url: "http://qdrant.internal:7000", wantHost: "qdrant.internal", wantPort: 7001},
		{url: "http://qdrant.internal", wantHost: "qdrant.internal", wantPort: 6334},
		{url: "", wantHost: "localhost", wantPort: 6334},
		{url: "http://host:notaport", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			host, port, err := qdrantAddress(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestPointID(t *testing.T) {
	id := types.ChunkID("/a", 0, "text")
	assert.Equal(t, pointID(id), pointID(id))
	assert.NotEqual(t, pointID(id), pointID(types.ChunkID("/a", 1, "text")))
	assert.Len(t, pointID(id), 36)
}

func TestRecordFromPoint(t *testing.T) {
	rec := testRecord("/root/a.md", 2, "some text", 0.5, 0.25)

	point := &qdrant.RetrievedPoint{
		Id:      qdrant.NewID(pointID(rec.ID)),
		Payload: qdrant.NewValueMap(recordPayload(rec)),
		Vectors: &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vector{
				Vector: &qdrant.VectorOutput{
					Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: rec.Embedding}},
				},
			},
		},
	}

	got, err := recordFromPoint(point)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Document, got.Document)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.Metadata.SourcePath, got.Metadata.SourcePath)
	assert.Equal(t, rec.Metadata.EmbeddingModel, got.Metadata.EmbeddingModel)
	assert.True(t, rec.Metadata.LastUpdated.Equal(got.Metadata.LastUpdated))

	point.Payload[payloadLastUpdated] = qdrant.NewValueString("yesterday")
	_, err = recordFromPoint(point)
	assert.Error(t, err)
}

func TestSourceFilter(t *testing.T) {
	f := sourceFilter([]string{"/a", "/b"})
	assert.Len(t, f.Should, 2)
	assert.Empty(t, f.Must)
}
