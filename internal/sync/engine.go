// Package sync drives the one-way reconciliation from Google Photos albums
// to Immich albums. It transfers one item at a time and persists the ledger
// after every confirmed upload, so a crash loses at most the in-flight item.
package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/thisloke/google-photo-sync-immich/internal/config"
	"github.com/thisloke/google-photo-sync-immich/internal/gphotos"
	"github.com/thisloke/google-photo-sync-immich/internal/immich"
	"github.com/thisloke/google-photo-sync-immich/internal/ledger"
)

// Source lists and downloads Google Photos media.
type Source interface {
	GetAlbum(ctx context.Context, albumID string) (*gphotos.Album, error)
	ListAlbumItems(ctx context.Context, albumID string) ([]gphotos.MediaItem, error)
	Download(ctx context.Context, item gphotos.MediaItem) (io.ReadCloser, error)
}

// Destination receives media into Immich albums.
type Destination interface {
	ListAlbums(ctx context.Context) ([]immich.Album, error)
	CreateAlbum(ctx context.Context, name string) (*immich.Album, error)
	UploadAsset(ctx context.Context, asset io.Reader, meta immich.AssetMeta) (*immich.UploadResult, error)
	AddAssets(ctx context.Context, albumID string, assetIDs []string) error
}

// TransferError is a failed download, upload, or album attach of a single
// item. It aborts the item's album but never the run.
type TransferError struct {
	ItemID   string
	Filename string
	Cause    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s (%s): %v", e.Filename, e.ItemID, e.Cause)
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

// AlbumResult is the outcome of one album pair.
type AlbumResult struct {
	SourceAlbumID    string
	SourceTitle      string
	DestinationAlbum string
	Transferred      int
	AlreadySynced    int
	Skipped          int
	Err              error
}

// RunReport summarizes a reconciliation run.
type RunReport struct {
	RunID  string
	Albums []AlbumResult
}

// Processed counts album pairs that completed without error.
func (r *RunReport) Processed() int {
	n := 0
	for _, a := range r.Albums {
		if a.Err == nil {
			n++
		}
	}
	return n
}

// Transferred counts items moved across all albums.
func (r *RunReport) Transferred() int {
	n := 0
	for _, a := range r.Albums {
		n += a.Transferred
	}
	return n
}

type Engine struct {
	Source      Source
	Destination Destination
	Ledger      *ledger.Ledger
	History     *History // optional
	Mappings    []config.AlbumMapping
	TempDir     string // defaults to the OS temp dir
	DryRun      bool
}

// Run reconciles every configured album pair sequentially. Per-pair
// failures are recorded in the report and logged; they never abort the
// run. The returned error covers run-level failures only, such as the
// destination album list being unavailable.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	log := slog.With("run_id", report.RunID)

	// One album list per run. Name resolution and creation work against
	// this cache so repeated pairs never re-list.
	destAlbums, err := e.Destination.ListAlbums(ctx)
	if err != nil {
		return nil, fmt.Errorf("list destination albums: %w", err)
	}
	destByName := make(map[string]string, len(destAlbums))
	for _, a := range destAlbums {
		destByName[a.AlbumName] = a.ID
	}

	tempDir, err := e.makeTempDir(report.RunID)
	if err != nil {
		return nil, err
	}
	if tempDir != "" {
		defer os.RemoveAll(tempDir)
	}

	for _, m := range e.Mappings {
		res := e.syncAlbum(ctx, log, report.RunID, m, destByName, tempDir)
		if res.Err != nil {
			log.Error("album skipped", "album_id", m.SourceAlbumID, "error", res.Err)
		}
		report.Albums = append(report.Albums, res)

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	return report, nil
}

func (e *Engine) makeTempDir(runID string) (string, error) {
	if e.DryRun {
		return "", nil
	}
	base := e.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "photosync-"+runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

func (e *Engine) syncAlbum(ctx context.Context, log *slog.Logger, runID string, m config.AlbumMapping, destByName map[string]string, tempDir string) AlbumResult {
	res := AlbumResult{SourceAlbumID: m.SourceAlbumID, DestinationAlbum: m.DestinationName}

	album, err := e.Source.GetAlbum(ctx, m.SourceAlbumID)
	if err != nil {
		res.Err = err
		return res
	}
	res.SourceTitle = album.Title
	log = log.With("album_id", m.SourceAlbumID, "album", album.Title)

	destID, err := e.resolveDestination(ctx, log, m.DestinationName, destByName)
	if err != nil {
		res.Err = err
		return res
	}

	e.Ledger.EnsureAlbum(m.SourceAlbumID)

	items, err := e.Source.ListAlbumItems(ctx, m.SourceAlbumID)
	if err != nil {
		res.Err = err
		return res
	}

	// Diff against the ledger preserving listing order.
	var pending []gphotos.MediaItem
	for _, item := range items {
		switch {
		case item.ID == "" || item.BaseURL == "" || item.Filename == "":
			log.Warn("skipping malformed media item", "item_id", item.ID, "filename", item.Filename)
			res.Skipped++
		case e.Ledger.HasSynced(m.SourceAlbumID, item.ID):
			res.AlreadySynced++
		default:
			pending = append(pending, item)
		}
	}
	log.Info("album diffed",
		"total", len(items), "pending", len(pending), "already_synced", res.AlreadySynced)

	for _, item := range pending {
		if e.DryRun {
			log.Info("would transfer", "filename", item.Filename, "item_id", item.ID)
			res.Transferred++
			continue
		}
		if err := e.transferItem(ctx, log, runID, m, album, item, destID, tempDir); err != nil {
			res.Err = err
			return res
		}
		res.Transferred++
	}
	return res
}

// resolveDestination finds the destination album by exact name, creating it
// when absent. The cache is updated so later pairs targeting the same name
// reuse the created album.
func (e *Engine) resolveDestination(ctx context.Context, log *slog.Logger, name string, destByName map[string]string) (string, error) {
	if id, ok := destByName[name]; ok {
		return id, nil
	}
	if e.DryRun {
		log.Info("would create destination album", "name", name)
		destByName[name] = "dry-run-" + name
		return destByName[name], nil
	}
	created, err := e.Destination.CreateAlbum(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create destination album %q: %w", name, err)
	}
	log.Info("created destination album", "name", name, "dest_album_id", created.ID)
	destByName[name] = created.ID
	return created.ID, nil
}

// transferItem moves a single item: download to a temp file, upload, attach
// to the album, then record and persist the ledger. The ledger write only
// happens after the upload is confirmed.
func (e *Engine) transferItem(ctx context.Context, log *slog.Logger, runID string, m config.AlbumMapping, album *gphotos.Album, item gphotos.MediaItem, destID, tempDir string) error {
	path := filepath.Join(tempDir, item.ID)
	defer os.Remove(path)

	if err := e.downloadTo(ctx, item, path); err != nil {
		return &TransferError{ItemID: item.ID, Filename: item.Filename, Cause: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return &TransferError{ItemID: item.ID, Filename: item.Filename, Cause: err}
	}
	created := item.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	result, err := e.Destination.UploadAsset(ctx, f, immich.AssetMeta{
		Filename:   item.Filename,
		CreatedAt:  created,
		ModifiedAt: created,
	})
	f.Close()
	if err != nil {
		return &TransferError{ItemID: item.ID, Filename: item.Filename, Cause: err}
	}

	if err := e.Destination.AddAssets(ctx, destID, []string{result.ID}); err != nil {
		return &TransferError{ItemID: item.ID, Filename: item.Filename, Cause: err}
	}

	e.Ledger.Record(m.SourceAlbumID, item.ID)
	if err := e.Ledger.Persist(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	e.recordHistory(log, runID, m, album, item, result)

	log.Info("transferred", "filename", item.Filename, "item_id", item.ID, "asset_id", result.ID, "status", result.Status)
	return nil
}

func (e *Engine) downloadTo(ctx context.Context, item gphotos.MediaItem, path string) error {
	rc, err := e.Source.Download(ctx, item)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *Engine) recordHistory(log *slog.Logger, runID string, m config.AlbumMapping, album *gphotos.Album, item gphotos.MediaItem, result *immich.UploadResult) {
	if e.History == nil {
		return
	}
	err := e.History.Add(TransferRecord{
		RunID:      runID,
		AlbumID:    m.SourceAlbumID,
		AlbumTitle: album.Title,
		ItemID:     item.ID,
		Filename:   item.Filename,
		AssetID:    result.ID,
		Status:     result.Status,
	})
	if err != nil {
		// The ledger is the source of truth; a history write failure is
		// not worth aborting the album for.
		log.Warn("history write failed", "error", err)
	}
}
