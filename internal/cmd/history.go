package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/thisloke/google-photo-sync-immich/internal/config"
	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
	"github.com/thisloke/google-photo-sync-immich/internal/sync"
)

// HistoryCmd prints recent transfers from the sqlite log.
type HistoryCmd struct {
	Limit int `help:"Maximum number of entries" default:"20"`
}

func (c *HistoryCmd) Run(ctx context.Context, flags *RootFlags) error {
	if c.Limit <= 0 {
		return usagef("--limit must be positive")
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	path := cfg.HistoryDBPath
	if path == "" {
		if path, err = config.HistoryDBPath(); err != nil {
			return err
		}
	}
	history, err := sync.OpenHistory(path)
	if err != nil {
		return err
	}
	defer history.Close()

	records, err := history.Recent(c.Limit)
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		type recordOut struct {
			RunID      string    `json:"runId"`
			AlbumID    string    `json:"albumId"`
			AlbumTitle string    `json:"albumTitle,omitempty"`
			ItemID     string    `json:"itemId"`
			Filename   string    `json:"filename"`
			AssetID    string    `json:"assetId"`
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
		}
		out := make([]recordOut, 0, len(records))
		for _, r := range records {
			out = append(out, recordOut{
				RunID:      r.RunID,
				AlbumID:    r.AlbumID,
				AlbumTitle: r.AlbumTitle,
				ItemID:     r.ItemID,
				Filename:   r.Filename,
				AssetID:    r.AssetID,
				Status:     r.Status,
				Timestamp:  r.Timestamp,
			})
		}
		return outfmt.WriteJSON(os.Stdout, map[string]any{"transfers": out})
	}

	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format(time.RFC3339), r.AlbumTitle, r.Filename, r.Status, r.AssetID)
	}
	return nil
}
