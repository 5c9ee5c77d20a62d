package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/pkg/types"
)

// FileName is the ledger file inside the store directory
const FileName = ".content"

// Decision is the outcome of comparing a file digest with the ledger
type Decision int

const (
	// Index means the file is new or changed
	Index Decision = iota
	// Skip means the recorded digest matches
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "index"
}

// Ledger maps absolute file paths to hex SHA-256 digests.
// It is owned by a single run and is not safe for concurrent use.
type Ledger struct {
	entries  map[string]string
	previous map[string]prior
}

type prior struct {
	digest string
	ok     bool
}

// New returns an empty ledger
func New() *Ledger {
	return &Ledger{
		entries:  make(map[string]string),
		previous: make(map[string]prior),
	}
}

// Path returns the ledger file location for storeDir
func Path(storeDir string) string {
	return filepath.Join(storeDir, FileName)
}

// Load reads the ledger from storeDir.
// A missing file yields an empty ledger; a corrupt or unreadable one is logged
// and also yields an empty ledger.
func Load(ctx context.Context, storeDir string) *Ledger {
	logger := contextutil.LoggerFromContext(ctx)
	l := New()

	data, err := os.ReadFile(Path(storeDir))
	if errors.Is(err, fs.ErrNotExist) {
		return l
	}
	if err != nil {
		logger.WarnContext(ctx, "cannot read content ledger, starting empty", "path", Path(storeDir), "error", err)
		return l
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.WarnContext(ctx, "corrupt content ledger, starting empty", "path", Path(storeDir), "error", err)
		return l
	}
	for k, v := range entries {
		l.entries[k] = v
	}
	return l
}

// Save writes the ledger to storeDir.
// The data goes to a temporary file first and is renamed into place, so the
// ledger on disk is always either the old or the new complete version.
func (l *Ledger) Save(storeDir string) (err error) {
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnwritable, err)
	}

	data, err := json.Marshal(l.entries)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(storeDir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnwritable, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err = os.Rename(tmpName, Path(storeDir)); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Decide reports whether path must be (re)indexed.
// On Index the new digest is recorded immediately, so a later duplicate of the
// same path in one walk is skipped.
func (l *Ledger) Decide(path, digest string) Decision {
	current, ok := l.entries[path]
	if ok && current == digest {
		return Skip
	}
	if _, seen := l.previous[path]; !seen {
		l.previous[path] = prior{digest: current, ok: ok}
	}
	l.entries[path] = digest
	return Index
}

// Revert restores the entry that path had before Decide changed it.
// Used when a file's chunks never reached the store.
func (l *Ledger) Revert(path string) {
	p, ok := l.previous[path]
	if !ok {
		return
	}
	if p.ok {
		l.entries[path] = p.digest
	} else {
		delete(l.entries, path)
	}
	delete(l.previous, path)
}

// Known reports whether path had an entry before this run changed it
func (l *Ledger) Known(path string) bool {
	if p, ok := l.previous[path]; ok {
		return p.ok
	}
	_, ok := l.entries[path]
	return ok
}

// Prune drops entries below root whose paths are not in seen and returns them sorted.
func (l *Ledger) Prune(root string, seen map[string]struct{}) []string {
	var removed []string
	for path := range l.entries {
		if !within(root, path) {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		removed = append(removed, path)
	}
	for _, path := range removed {
		delete(l.entries, path)
	}
	sort.Strings(removed)
	return removed
}

// Get returns the digest recorded for path
func (l *Ledger) Get(path string) (string, bool) {
	d, ok := l.entries[path]
	return d, ok
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns the ledger as file records sorted by path
func (l *Ledger) Entries() []types.FileRecord {
	records := make([]types.FileRecord, 0, len(l.entries))
	for path, digest := range l.entries {
		records = append(records, types.FileRecord{Path: path, ContentDigest: digest})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}

// Digest computes the hex SHA-256 of the file at path
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes computes the hex SHA-256 of already loaded content
func DigestBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
