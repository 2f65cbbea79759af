package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func ledgerPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ledger.json")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	l, err := Load(ledgerPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.HasSynced("album", "item") {
		t.Error("empty ledger should not report synced items")
	}
	if len(l.Albums()) != 0 {
		t.Errorf("expected no albums, got %v", l.Albums())
	}
}

func TestLoadMalformedFileIsEmptyNotFatal(t *testing.T) {
	path := ledgerPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := Load(path)
	if err != nil {
		t.Fatalf("malformed ledger should not be fatal: %v", err)
	}
	if l.HasSynced("a", "1") {
		t.Error("corrupt ledger must be treated as empty")
	}
}

func TestRecordPersistLoadRoundTrip(t *testing.T) {
	path := ledgerPath(t)

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.Record("abc123", "p1")
	l.Record("abc123", "p2")
	l.Record("other", "x1")
	if err := l.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if !reloaded.HasSynced("abc123", id) {
			t.Errorf("expected %s synced after reload", id)
		}
	}
	if !reloaded.HasSynced("other", "x1") {
		t.Error("expected x1 synced after reload")
	}
	if reloaded.HasSynced("abc123", "p3") {
		t.Error("p3 was never recorded")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	l, err := Load(ledgerPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.Record("a", "1")
	l.Record("a", "1")
	l.Record("a", "1")
	if got := l.Count("a"); got != 1 {
		t.Errorf("expected 1 item, got %d", got)
	}
}

func TestPersistedLayoutIsAlbumToIDList(t *testing.T) {
	path := ledgerPath(t)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.Record("abc123", "p1")
	l.Record("abc123", "p2")
	if err := l.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("ledger file is not a map of id lists: %v", err)
	}
	if len(raw["abc123"]) != 2 || raw["abc123"][0] != "p1" || raw["abc123"][1] != "p2" {
		t.Errorf("unexpected layout: %v", raw)
	}
}

func TestEnsureAlbumCreatesEmptyEntry(t *testing.T) {
	path := ledgerPath(t)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.EnsureAlbum("new-album")
	if err := l.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	albums := reloaded.Albums()
	if len(albums) != 1 || albums[0] != "new-album" {
		t.Errorf("expected [new-album], got %v", albums)
	}
	if reloaded.Count("new-album") != 0 {
		t.Errorf("expected empty set, got %d", reloaded.Count("new-album"))
	}
}

func TestLoadDeduplicatesFileEntries(t *testing.T) {
	path := ledgerPath(t)
	content := `{"a": ["1", "2", "1"]}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := l.Count("a"); got != 2 {
		t.Errorf("expected 2 unique items, got %d", got)
	}
}
