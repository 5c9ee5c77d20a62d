package indexer

import "time"

// ProgressReporter receives human-facing progress of a run. Calls come from
// the goroutine running Indexer.Run, in pipeline order.
type ProgressReporter interface {
	// Scan is called before the directory walk starts
	Scan(root string)
	// Scanned is called after the walk with the number of text files found
	Scanned(root string, files int, elapsed time.Duration)
	// Skip is called for each file whose content is already in the store
	Skip(path string)
	// Chunked is called once all changed files are split
	Chunked(root string, chunks int, elapsed time.Duration)
	// Batch is called after each successful upsert with cumulative counts
	Batch(processed, total int, elapsed time.Duration)
	// Warn reports a recovered problem
	Warn(msg string)
}

type nopReporter struct{}

func (nopReporter) Scan(string)                        {}
func (nopReporter) Scanned(string, int, time.Duration) {}
func (nopReporter) Skip(string)                        {}
func (nopReporter) Chunked(string, int, time.Duration) {}
func (nopReporter) Batch(int, int, time.Duration)      {}
func (nopReporter) Warn(string)                        {}
