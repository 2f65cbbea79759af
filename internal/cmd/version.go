package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
)

// Set via -ldflags at release build time.
var (
	version = "dev"
	commit  = ""
)

func VersionString() string {
	if commit != "" {
		return fmt.Sprintf("%s (%s)", version, commit)
	}
	return version
}

type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context) error {
	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(os.Stdout, map[string]string{
			"version": version,
			"commit":  commit,
			"go":      runtime.Version(),
		})
	}
	fmt.Println("photosync " + VersionString())
	return nil
}
