package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/thisloke/google-photo-sync-immich/internal/config"
	"github.com/thisloke/google-photo-sync-immich/internal/ledger"
	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
	"github.com/thisloke/google-photo-sync-immich/internal/sync"
)

// RunCmd reconciles every configured album pair.
type RunCmd struct{}

func (c *RunCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	for _, id := range cfg.UnmappedAlbumIDs() {
		slog.Warn("album id has no destination mapping, skipping", "album_id", id)
	}

	dest := newDestClient(cfg)
	if err := dest.Ping(ctx); err != nil {
		if cont, perr := c.confirmUnreachable(flags, cfg, err); perr != nil {
			return perr
		} else if !cont {
			return &ExitError{Code: 1, Err: fmt.Errorf("destination unreachable: %w", err)}
		}
		slog.Warn("continuing with unreachable destination", "error", err)
	}

	source, err := newSourceClient(ctx, flags, cfg)
	if err != nil {
		return err
	}

	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		if ledgerPath, err = config.LedgerPath(); err != nil {
			return err
		}
	}
	led, err := ledger.Load(ledgerPath)
	if err != nil {
		return err
	}

	// The history log is supplemental; failing to open it must not block
	// the sync.
	var history *sync.History
	historyPath := cfg.HistoryDBPath
	if historyPath == "" {
		historyPath, _ = config.HistoryDBPath()
	}
	if historyPath != "" && !flags.DryRun {
		if history, err = sync.OpenHistory(historyPath); err != nil {
			slog.Warn("transfer history unavailable", "error", err)
			history = nil
		} else {
			defer history.Close()
		}
	}

	engine := &sync.Engine{
		Source:      source,
		Destination: dest,
		Ledger:      led,
		History:     history,
		Mappings:    cfg.AlbumMappings,
		TempDir:     cfg.TempDir,
		DryRun:      flags.DryRun,
	}

	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	if err := c.printReport(ctx, report); err != nil {
		return err
	}

	if report.Processed() == 0 {
		return &ExitError{Code: 1, Err: errors.New("no album pair completed")}
	}
	return nil
}

// confirmUnreachable decides whether to proceed without a reachable
// destination: interactively via prompt, otherwise via on_unreachable.
func (c *RunCmd) confirmUnreachable(flags *RootFlags, cfg *config.Config, cause error) (bool, error) {
	interactive := !flags.NoInput && term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive {
		return cfg.OnUnreachable == config.UnreachableContinue, nil
	}

	fmt.Fprintf(os.Stderr, "Immich at %s is unreachable (%v). Continue anyway? [y/N] ", cfg.ImmichBaseURL, cause)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (c *RunCmd) printReport(ctx context.Context, report *sync.RunReport) error {
	if outfmt.IsJSON(ctx) {
		type albumOut struct {
			SourceAlbumID    string `json:"sourceAlbumId"`
			SourceTitle      string `json:"sourceTitle,omitempty"`
			DestinationAlbum string `json:"destinationAlbum"`
			Transferred      int    `json:"transferred"`
			AlreadySynced    int    `json:"alreadySynced"`
			Skipped          int    `json:"skipped"`
			Error            string `json:"error,omitempty"`
		}
		out := struct {
			RunID       string     `json:"runId"`
			Processed   int        `json:"processed"`
			Transferred int        `json:"transferred"`
			Albums      []albumOut `json:"albums"`
		}{
			RunID:       report.RunID,
			Processed:   report.Processed(),
			Transferred: report.Transferred(),
		}
		for _, a := range report.Albums {
			ao := albumOut{
				SourceAlbumID:    a.SourceAlbumID,
				SourceTitle:      a.SourceTitle,
				DestinationAlbum: a.DestinationAlbum,
				Transferred:      a.Transferred,
				AlreadySynced:    a.AlreadySynced,
				Skipped:          a.Skipped,
			}
			if a.Err != nil {
				ao.Error = a.Err.Error()
			}
			out.Albums = append(out.Albums, ao)
		}
		return outfmt.WriteJSON(os.Stdout, out)
	}

	for _, a := range report.Albums {
		status := "ok"
		if a.Err != nil {
			status = "skipped: " + a.Err.Error()
		}
		fmt.Printf("%s\t%s\ttransferred=%d already=%d skipped=%d\t%s\n",
			a.SourceAlbumID, a.DestinationAlbum, a.Transferred, a.AlreadySynced, a.Skipped, status)
	}
	fmt.Printf("run %s: %d/%d albums, %d items transferred\n",
		report.RunID, report.Processed(), len(report.Albums), report.Transferred())
	return nil
}
