package walker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/pkg/types"
)

// DefaultMaxFileSize bounds the size of a file loaded as text
const DefaultMaxFileSize = 10 << 20

// Skip reasons
const (
	ReasonNotText          = "not text"
	ReasonTooLarge         = "too large"
	ReasonPermission       = "permission denied"
	ReasonUnreadable       = "unreadable"
	ReasonSymlinkCycle     = "symlink cycle"
	ReasonBrokenSymlink    = "broken symlink"
	ReasonSymlinkNotFollow = "symlinked directory not followed"
)

// Options controls a walk
type Options struct {
	Exclude        []string // absolute paths, paths relative to root, or glob patterns
	Workers        int      // concurrent file loaders (default: runtime.NumCPU())
	FollowSymlinks bool     // descend into symlinked directories
	MaxFileSize    int64    // larger files are skipped (default: DefaultMaxFileSize)
}

// File is a text file found under the root
type File struct {
	Path    string
	Content []byte
}

// Skip records a path that was left out of the result
type Skip struct {
	Path   string
	Reason string
}

// Result holds the text files found by a walk, sorted by path
type Result struct {
	Root    string
	Files   []File
	Skipped []Skip
}

// Walk enumerates the regular text files below root.
// Unreadable entries, binary files and symlink cycles are recorded in
// Result.Skipped; only an unreadable root is an error.
func Walk(ctx context.Context, root string, opts Options) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRootUnreadable, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRootUnreadable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrRootUnreadable, absRoot)
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	w := &walk{
		root:     absRoot,
		opts:     opts,
		excluder: newExcluder(absRoot, opts.Exclude),
		visited:  make(map[string]struct{}),
		result:   &Result{Root: absRoot},
	}

	if real, err := filepath.EvalSymlinks(absRoot); err == nil {
		w.visited[real] = struct{}{}
	}
	if err := w.scan(ctx, absRoot, false); err != nil {
		return nil, err
	}

	if err := w.load(ctx); err != nil {
		return nil, err
	}

	sort.Slice(w.result.Files, func(i, j int) bool { return w.result.Files[i].Path < w.result.Files[j].Path })
	sort.Slice(w.result.Skipped, func(i, j int) bool { return w.result.Skipped[i].Path < w.result.Skipped[j].Path })
	return w.result, nil
}

type walk struct {
	root       string
	opts       Options
	excluder   *excluder
	visited    map[string]struct{}
	candidates []string
	result     *Result
}

// scan collects candidate file paths depth-first. Below a followed
// symlink, entries are also matched against exclusions by their real path.
func (w *walk) scan(ctx context.Context, dir string, linked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := contextutil.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == w.root {
			return fmt.Errorf("%w: %v", types.ErrRootUnreadable, err)
		}
		reason := ReasonUnreadable
		if errors.Is(err, fs.ErrPermission) {
			reason = ReasonPermission
		}
		logger.WarnContext(ctx, "skipping directory", "path", dir, "reason", reason, "error", err)
		w.skip(dir, reason)
		return nil
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if w.excluder.match(path) || (linked && w.excluder.matchReal(path)) {
			logger.DebugContext(ctx, "excluded", "path", path)
			continue
		}

		switch mode := entry.Type(); {
		case mode&fs.ModeSymlink != 0:
			if err := w.symlink(ctx, path); err != nil {
				return err
			}
		case mode.IsDir():
			if real, err := filepath.EvalSymlinks(path); err == nil {
				w.visited[real] = struct{}{}
			}
			if err := w.scan(ctx, path, linked); err != nil {
				return err
			}
		case mode.IsRegular():
			w.candidates = append(w.candidates, path)
		}
	}
	return nil
}

func (w *walk) symlink(ctx context.Context, path string) error {
	logger := contextutil.LoggerFromContext(ctx)

	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		logger.WarnContext(ctx, "skipping symlink", "path", path, "reason", ReasonBrokenSymlink, "error", err)
		w.skip(path, ReasonBrokenSymlink)
		return nil
	}
	info, err := os.Stat(real)
	if err != nil {
		logger.WarnContext(ctx, "skipping symlink", "path", path, "reason", ReasonBrokenSymlink, "error", err)
		w.skip(path, ReasonBrokenSymlink)
		return nil
	}

	if w.excluder.match(real) {
		logger.DebugContext(ctx, "excluded symlink target", "path", path, "target", real)
		return nil
	}
	if info.Mode().IsRegular() {
		w.candidates = append(w.candidates, path)
		return nil
	}
	if !info.IsDir() {
		return nil
	}
	if !w.opts.FollowSymlinks {
		logger.DebugContext(ctx, "not following symlinked directory", "path", path)
		w.skip(path, ReasonSymlinkNotFollow)
		return nil
	}
	if _, seen := w.visited[real]; seen {
		logger.WarnContext(ctx, "skipping symlink", "path", path, "reason", ReasonSymlinkCycle, "target", real)
		w.skip(path, ReasonSymlinkCycle)
		return nil
	}
	w.visited[real] = struct{}{}
	return w.scan(ctx, path, true)
}

// load reads candidates on a bounded worker pool
func (w *walk) load(ctx context.Context) error {
	files := make([]*File, len(w.candidates))
	skips := make([]*Skip, len(w.candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)

	for i, path := range w.candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, reason, err := w.readText(path)
			if err != nil {
				contextutil.LoggerFromContext(gctx).WarnContext(gctx, "skipping file", "path", path, "reason", reason, "error", err)
			}
			if reason != "" {
				skips[i] = &Skip{Path: path, Reason: reason}
				return nil
			}
			files[i] = &File{Path: path, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range w.candidates {
		switch {
		case files[i] != nil:
			w.result.Files = append(w.result.Files, *files[i])
		case skips[i] != nil:
			w.result.Skipped = append(w.result.Skipped, *skips[i])
		}
	}
	return nil
}

// readText returns the file content, or a skip reason
func (w *walk) readText(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, readReason(err), err
	}
	if info.Size() > w.opts.MaxFileSize {
		return nil, ReasonTooLarge, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, readReason(err), err
	}
	if !IsText(content) {
		return nil, ReasonNotText, nil
	}
	return content, "", nil
}

func (w *walk) skip(path, reason string) {
	w.result.Skipped = append(w.result.Skipped, Skip{Path: path, Reason: reason})
}

func readReason(err error) string {
	if errors.Is(err, fs.ErrPermission) {
		return ReasonPermission
	}
	return ReasonUnreadable
}

// IsText reports whether content decodes as UTF-8 text without NUL bytes
func IsText(content []byte) bool {
	return utf8.Valid(content) && bytes.IndexByte(content, 0) < 0
}

// excluder matches paths against absolute prefixes and glob patterns
type excluder struct {
	prefixes []string
	globs    []string
}

func newExcluder(root string, patterns []string) *excluder {
	e := &excluder{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			e.globs = append(e.globs, p)
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		e.prefixes = append(e.prefixes, p)
		if real, err := filepath.EvalSymlinks(p); err == nil && real != p {
			e.prefixes = append(e.prefixes, real)
		}
	}
	return e
}

// matchReal resolves path and matches the result
func (e *excluder) matchReal(path string) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	return e.match(real)
}

func (e *excluder) match(path string) bool {
	for _, p := range e.prefixes {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	base := filepath.Base(path)
	for _, g := range e.globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}
