package sync

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History is the transfer log, kept in SQLite next to the ledger. The
// ledger decides what still needs transferring; the history only records
// what happened and when, for the history command.
type History struct {
	db *sql.DB
}

// TransferRecord is one logged transfer.
type TransferRecord struct {
	ID         int64
	RunID      string
	AlbumID    string
	AlbumTitle string
	ItemID     string
	Filename   string
	AssetID    string
	Status     string
	Timestamp  time.Time
}

// OpenHistory opens (or creates) the transfer log database.
func OpenHistory(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return h, nil
}

func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		album_id TEXT NOT NULL,
		album_title TEXT NOT NULL DEFAULT '',
		item_id TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		asset_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_album_id ON transfers(album_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_timestamp ON transfers(timestamp);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Add appends one transfer record.
func (h *History) Add(rec TransferRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := h.db.Exec(
		`INSERT INTO transfers (run_id, album_id, album_title, item_id, filename, asset_id, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.AlbumID, rec.AlbumTitle, rec.ItemID, rec.Filename, rec.AssetID, rec.Status, ts,
	)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

// Recent returns the newest transfer records, newest first.
func (h *History) Recent(limit int) ([]TransferRecord, error) {
	rows, err := h.db.Query(
		`SELECT id, run_id, album_id, album_title, item_id, filename, asset_id, status, timestamp
		 FROM transfers ORDER BY timestamp DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.AlbumID, &rec.AlbumTitle,
			&rec.ItemID, &rec.Filename, &rec.AssetID, &rec.Status, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
