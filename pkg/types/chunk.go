package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Chunk is a bounded piece of one file's text, the unit of embedding and storage.
type Chunk struct {
	ID            string
	SourcePath    string
	SequenceIndex int
	Text          string
}

// ChunkID derives the record id for a chunk.
// The id depends only on the source path, position and text, so re-indexing
// identical content overwrites the same records.
func ChunkID(sourcePath string, sequenceIndex int, text string) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(sequenceIndex)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NewChunk builds a chunk and computes its id
func NewChunk(sourcePath string, sequenceIndex int, text string) Chunk {
	return Chunk{
		ID:            ChunkID(sourcePath, sequenceIndex, text),
		SourcePath:    sourcePath,
		SequenceIndex: sequenceIndex,
		Text:          text,
	}
}

// Validate checks that the chunk is usable for embedding
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.SourcePath == "" {
		return errors.New("chunk source path is required")
	}
	if c.SequenceIndex < 0 {
		return errors.New("sequence index must not be negative")
	}
	if c.ID != ChunkID(c.SourcePath, c.SequenceIndex, c.Text) {
		return errors.New("chunk id does not match its content")
	}
	return nil
}

// FileRecord is one ledger entry
type FileRecord struct {
	Path          string
	ContentDigest string
}

// RecordMetadata is stored alongside every collection record
type RecordMetadata struct {
	SourcePath     string    `json:"sourcePath"`
	EmbeddingModel string    `json:"embeddingModel,omitempty"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// CollectionRecord is the persisted unit in a vector store collection
type CollectionRecord struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  RecordMetadata
}

// LastUpdatedString formats the update time as ISO-8601
func (m RecordMetadata) LastUpdatedString() string {
	return m.LastUpdated.UTC().Format(time.RFC3339)
}
