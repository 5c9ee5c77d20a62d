package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/dshills/vectorize/pkg/types"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters
	DefaultChunkSize = 4000

	// DefaultChunkOverlap is the number of characters carried into the next chunk
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter divides text into overlapping chunks of bounded size
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New creates a Splitter. chunkSize must be positive and overlap smaller than chunkSize.
func New(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}, nil
}

// NewDefault creates a Splitter with DefaultChunkSize and DefaultChunkOverlap
func NewDefault() *Splitter {
	s, _ := New(DefaultChunkSize, DefaultChunkOverlap)
	return s
}

// ChunkSize returns the configured maximum chunk length
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. The sequence is computed when
// ranged over and may be ranged over again with the same result.
func (s *Splitter) Split(text, path string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		for i, piece := range s.SplitText(text) {
			if !yield(types.NewChunk(path, i, piece)) {
				return
			}
		}
	}
}

// SplitAll collects Split into a slice
func (s *Splitter) SplitAll(text, path string) []types.Chunk {
	var chunks []types.Chunk
	for c := range s.Split(text, path) {
		chunks = append(chunks, c)
	}
	return chunks
}

// SplitText returns the chunk texts.
// Blank text yields nothing; text that fits in one chunk is returned unchanged.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= s.chunkSize {
		return []string{text}
	}

	pieces := s.split(text, s.separators)
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// split applies the first separator found in text and recurses with the
// remaining separators on pieces that are still too long.
func (s *Splitter) split(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge combines small pieces into chunks no longer than chunkSize, starting
// each new chunk with up to overlap characters from the end of the previous one.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		lengths []int
		total   int
	)

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, piece)
		lengths = append(lengths, n)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep, keeping sep at the start of each
// following piece. An empty sep splits into single characters.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
