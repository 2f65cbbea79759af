package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/thisloke/google-photo-sync-immich/internal/googleauth"
	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
)

type AuthCmd struct {
	Add    AuthAddCmd    `cmd:"" help:"Authorize with Google and store the credential"`
	Status AuthStatusCmd `cmd:"" help:"Show the stored credential's state"`
	Remove AuthRemoveCmd `cmd:"" help:"Remove the stored credential"`
}

type AuthAddCmd struct {
	Manual       bool `help:"Paste the authorization code instead of a local callback listener"`
	ForceConsent bool `name:"force-consent" help:"Force the consent screen (issues a new refresh token)"`
}

func (c *AuthAddCmd) Run(ctx context.Context, flags *RootFlags) error {
	if flags.NoInput {
		return usagef("auth add is interactive; drop --no-input")
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	store, err := newTokenStore(cfg)
	if err != nil {
		return err
	}

	tok, err := store.Authorize(ctx, googleauth.AuthorizeOptions{
		Manual:       c.Manual,
		ForceConsent: c.ForceConsent,
		Stdin:        os.Stdin,
		Stderr:       os.Stderr,
	})
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(os.Stdout, map[string]any{
			"authorized": true,
			"path":       store.Path(),
			"expiry":     tok.Expiry,
		})
	}
	fmt.Printf("authorized\t%s\n", store.Path())
	return nil
}

type AuthStatusCmd struct{}

func (c *AuthStatusCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	store, err := newTokenStore(cfg)
	if err != nil {
		return err
	}

	tok, err := store.Load()
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		out := map[string]any{
			"path":       store.Path(),
			"authorized": tok != nil,
		}
		if tok != nil {
			out["expiry"] = tok.Expiry
			out["expiringSoon"] = googleauth.ExpiringSoon(tok, time.Now())
			out["hasRefreshToken"] = tok.RefreshToken != ""
		}
		return outfmt.WriteJSON(os.Stdout, out)
	}

	fmt.Printf("path\t%s\n", store.Path())
	if tok == nil {
		fmt.Println("status\tnot authorized (run 'photosync auth add')")
		return nil
	}
	fmt.Println("status\tauthorized")
	if !tok.Expiry.IsZero() {
		fmt.Printf("expiry\t%s\n", tok.Expiry.Format(time.RFC3339))
	}
	if googleauth.ExpiringSoon(tok, time.Now()) {
		fmt.Println("note\taccess token expires soon; next run will refresh it")
	}
	if tok.RefreshToken == "" && cfg.TokenBackend != "keyring" {
		fmt.Println("note\tno refresh token stored; re-run 'auth add --force-consent'")
	}
	return nil
}

type AuthRemoveCmd struct{}

func (c *AuthRemoveCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	store, err := newTokenStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Delete(); err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(os.Stdout, map[string]any{"removed": true, "path": store.Path()})
	}
	fmt.Printf("removed\t%s\n", store.Path())
	return nil
}
