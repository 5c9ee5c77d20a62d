package main

import (
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"

	"github.com/dshills/vectorize/internal/indexer"
)

// terminalReporter prints run progress with pterm. In plain mode every batch
// is a line of its own instead of a progress bar update.
type terminalReporter struct {
	out   io.Writer
	plain bool

	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter

	bar       *pterm.ProgressbarPrinter
	processed int
	total     int
	elapsed   time.Duration
}

var _ indexer.ProgressReporter = (*terminalReporter)(nil)

func newTerminalReporter(out io.Writer) *terminalReporter {
	return &terminalReporter{
		out:     out,
		plain:   pterm.RawOutput,
		info:    pterm.Info.WithWriter(out),
		success: pterm.Success.WithWriter(out),
		warning: pterm.Warning.WithWriter(out),
	}
}

func (r *terminalReporter) Scan(root string) {
	r.info.Printfln("Scanning %s", root)
}

func (r *terminalReporter) Scanned(root string, files int, elapsed time.Duration) {
	r.info.Printfln("Found %d text files in %s in %.2f seconds.", files, root, elapsed.Seconds())
}

func (r *terminalReporter) Skip(path string) {
	_, _ = fmt.Fprintf(r.out, "-- %s already in the vector store.\n", path)
}

func (r *terminalReporter) Chunked(root string, chunks int, elapsed time.Duration) {
	r.info.Printfln("Loaded %d chunks from %s in %.2f seconds.", chunks, root, elapsed.Seconds())
}

func (r *terminalReporter) Batch(processed, total int, elapsed time.Duration) {
	delta := processed - r.processed
	r.processed, r.total, r.elapsed = processed, total, elapsed

	if r.plain {
		r.success.Printfln("Added %d/%d chunks to vector store in %.2f seconds.", processed, total, elapsed.Seconds())
		return
	}
	if r.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Embedding").
			WithWriter(r.out).
			Start()
		if err != nil {
			r.plain = true
			r.Batch(processed, total, elapsed)
			return
		}
		r.bar = bar
	}
	r.bar.UpdateTitle(fmt.Sprintf("Added %d/%d chunks", processed, total))
	r.bar.Add(delta)
}

func (r *terminalReporter) Warn(msg string) {
	r.warning.Println(msg)
}

// Stop ends the progress bar and prints the final batch line
func (r *terminalReporter) Stop() {
	if r.bar == nil {
		return
	}
	_, _ = r.bar.Stop()
	r.bar = nil
	r.success.Printfln("Added %d/%d chunks to vector store in %.2f seconds.", r.processed, r.total, r.elapsed.Seconds())
}
