// Package ledger tracks which source media items have already been
// transferred, per source album.
//
// The ledger is the durability core of the sync: an item id is recorded only
// after its upload has been confirmed, and the file is rewritten after every
// single transfer. A crash therefore loses at most one in-flight item, which
// is re-transferred on the next run; it never records a transfer that did
// not happen.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Ledger is an in-memory index over a flat JSON file mapping source album id
// to the item ids already synced from it. Sets only grow; nothing removes
// ids during normal operation. Single writer, no locking (see the run loop:
// one transfer in flight at a time).
type Ledger struct {
	path  string
	items map[string]map[string]struct{}
	order map[string][]string // insertion order, keeps the file diff-friendly
}

// Load reads the ledger file at path. A missing file yields an empty ledger.
// A malformed file is logged and also yields an empty ledger: the worst case
// is re-transferring items Immich has already seen, which is preferable to
// refusing to run at all.
func Load(path string) (*Ledger, error) {
	l := &Ledger{
		path:  path,
		items: make(map[string]map[string]struct{}),
		order: make(map[string][]string),
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		slog.Warn("ledger file is malformed, starting from an empty ledger; previously synced items may be re-transferred",
			"path", path, "error", err)
		return l, nil
	}

	for albumID, ids := range raw {
		set := make(map[string]struct{}, len(ids))
		ordered := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, dup := set[id]; dup {
				continue
			}
			set[id] = struct{}{}
			ordered = append(ordered, id)
		}
		l.items[albumID] = set
		l.order[albumID] = ordered
	}
	return l, nil
}

// EnsureAlbum guarantees an entry exists for the album, empty if new.
func (l *Ledger) EnsureAlbum(albumID string) {
	if _, ok := l.items[albumID]; !ok {
		l.items[albumID] = make(map[string]struct{})
		l.order[albumID] = nil
	}
}

// HasSynced reports whether the item was already transferred from the album.
func (l *Ledger) HasSynced(albumID, itemID string) bool {
	_, ok := l.items[albumID][itemID]
	return ok
}

// Record adds the item id to the album's synced set. Recording an id that is
// already present is a no-op.
func (l *Ledger) Record(albumID, itemID string) {
	l.EnsureAlbum(albumID)
	if _, ok := l.items[albumID][itemID]; ok {
		return
	}
	l.items[albumID][itemID] = struct{}{}
	l.order[albumID] = append(l.order[albumID], itemID)
}

// Count returns the number of synced items recorded for the album.
func (l *Ledger) Count(albumID string) int {
	return len(l.items[albumID])
}

// Albums returns the album ids present in the ledger, sorted.
func (l *Ledger) Albums() []string {
	out := make([]string, 0, len(l.items))
	for id := range l.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Persist rewrites the ledger file, replacing its previous content. The
// write goes through a temp file in the same directory and a rename so a
// crash mid-write never leaves a truncated ledger behind.
func (l *Ledger) Persist() error {
	out := make(map[string][]string, len(l.order))
	for albumID, ids := range l.order {
		if ids == nil {
			ids = []string{}
		}
		out[albumID] = ids
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}
