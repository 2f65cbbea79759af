package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/thisloke/google-photo-sync-immich/internal/gphotos"
	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
)

// ListAlbumsCmd prints every accessible album, owned and shared, so the
// operator can pick ids for album_mappings.
type ListAlbumsCmd struct{}

func (c *ListAlbumsCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	source, err := newSourceClient(ctx, flags, cfg)
	if err != nil {
		return err
	}

	owned, err := source.ListAlbums(ctx)
	if err != nil {
		return err
	}
	shared, err := source.ListSharedAlbums(ctx)
	if err != nil {
		return err
	}
	albums := append(owned, shared...)

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(os.Stdout, struct {
			Albums []gphotos.Album `json:"albums"`
		}{Albums: albums})
	}

	for _, a := range albums {
		kind := "owned"
		if a.Shared {
			kind = "shared"
		}
		fmt.Printf("%s\t%s\t%d\t%s\t%s\n", a.ID, a.Title, a.ItemCount, kind, a.ShareableURL)
	}
	return nil
}
