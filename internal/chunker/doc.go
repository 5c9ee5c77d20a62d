// Package chunker splits file text into overlapping chunks for embedding.
//
// Splitting is recursive: the text is cut on the first separator it contains
// (blank lines, then newlines, then spaces), and any piece that is still
// longer than the chunk size is cut again with the next separator. The last
// resort is a hard cut between characters. Small pieces are merged back
// together up to the chunk size, and each chunk begins with up to Overlap
// characters from the end of the previous one.
//
//	s, err := chunker.New(1000, 100)
//	if err != nil {
//	    return err
//	}
//	for c := range s.Split(text, path) {
//	    fmt.Println(c.SequenceIndex, c.ID)
//	}
//
// Lengths are counted in characters (runes), not bytes. Splitting is
// deterministic: the same text always produces the same chunk boundaries,
// sequence indexes and ids.
package chunker
