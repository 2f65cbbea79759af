// Package cmd is the photosync command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"golang.org/x/oauth2"

	"github.com/thisloke/google-photo-sync-immich/internal/config"
	"github.com/thisloke/google-photo-sync-immich/internal/googleauth"
	"github.com/thisloke/google-photo-sync-immich/internal/gphotos"
	"github.com/thisloke/google-photo-sync-immich/internal/immich"
	"github.com/thisloke/google-photo-sync-immich/internal/outfmt"
	"github.com/thisloke/google-photo-sync-immich/internal/secrets"
)

type RootFlags struct {
	Config  string `help:"Path to config file (default: ${config_path})" type:"path"`
	JSON    bool   `help:"Output JSON to stdout" short:"j"`
	Verbose bool   `help:"Enable verbose logging" short:"v"`
	NoInput bool   `help:"Never prompt; fail instead (useful for cron/CI)" aliases:"non-interactive"`
	DryRun  bool   `help:"List what would transfer without changing anything" short:"n"`
}

type CLI struct {
	RootFlags `embed:""`

	Version kong.VersionFlag `help:"Print version and exit"`

	Run        RunCmd        `cmd:"" default:"1" help:"Reconcile all configured album pairs (default)"`
	ListAlbums ListAlbumsCmd `cmd:"" name:"list-albums" help:"Print accessible Google Photos albums to populate the mapping config"`
	Auth       AuthCmd       `cmd:"" help:"Google credential management"`
	History    HistoryCmd    `cmd:"" help:"Show recent transfers"`
	VersionCmd VersionCmd    `cmd:"" name:"version" help:"Print version"`
}

// ExitError carries the process exit code alongside the cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to the process exit code: 0 success,
// 2 usage or configuration errors, 1 everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

type exitPanic struct{ code int }

func Execute(args []string) (err error) {
	args = rewriteDesirePathArgs(args)

	parser, cli, err := newParser()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if ep, ok := r.(exitPanic); ok {
				if ep.code == 0 {
					err = nil
					return
				}
				err = &ExitError{Code: ep.code, Err: errors.New("exited")}
				return
			}
			panic(r)
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		parsedErr := wrapParseError(err)
		fmt.Fprintf(os.Stderr, "error: %v\n", parsedErr)
		return parsedErr
	}

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	mode := outfmt.ModeText
	if cli.JSON {
		mode = outfmt.ModeJSON
	}
	ctx := outfmt.WithMode(context.Background(), mode)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&cli.RootFlags)

	err = kctx.Run()
	if err == nil {
		return nil
	}
	err = stableExitCode(err)
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return err
}

// rewriteDesirePathArgs turns the documented `--list-albums` flag form into
// the list-albums command so both spellings work.
func rewriteDesirePathArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}
		if a == "--list-albums" {
			out = append(out, "list-albums")
			continue
		}
		out = append(out, a)
	}
	return out
}

func newParser() (*kong.Kong, *CLI, error) {
	configPath, _ := config.DefaultConfigPath()

	cli := &CLI{}
	parser, err := kong.New(
		cli,
		kong.Name("photosync"),
		kong.Description("One-way Google Photos to Immich album synchronizer"),
		kong.UsageOnError(),
		kong.Vars{
			"version":     VersionString(),
			"config_path": configPath,
		},
		kong.Writers(os.Stdout, os.Stderr),
		kong.Exit(func(code int) { panic(exitPanic{code: code}) }),
	)
	if err != nil {
		return nil, nil, err
	}
	return parser, cli, nil
}

func wrapParseError(err error) error {
	if err == nil {
		return nil
	}
	var parseErr *kong.ParseError
	if errors.As(err, &parseErr) {
		return &ExitError{Code: 2, Err: parseErr}
	}
	return err
}

// stableExitCode classifies command errors so automation can rely on the
// exit code: configuration problems are 2, runtime failures are 1.
func stableExitCode(err error) error {
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	var missing *config.MissingConfigError
	var invalid *config.InvalidConfigError
	if errors.As(err, &missing) || errors.As(err, &invalid) {
		return &ExitError{Code: 2, Err: err}
	}
	return &ExitError{Code: 1, Err: err}
}

func usagef(format string, args ...any) error {
	return &ExitError{Code: 2, Err: fmt.Errorf(format, args...)}
}

// loadConfig resolves the config path and loads it. Flags without an
// explicit --config fall back to the default location.
func loadConfig(flags *RootFlags) (*config.Config, error) {
	path := flags.Config
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

// newTokenStore wires the token file and, when configured, the keyring
// backend for the refresh token.
func newTokenStore(cfg *config.Config) (*googleauth.TokenStore, error) {
	path := cfg.TokenPath
	if path == "" {
		var err error
		path, err = config.TokenPath()
		if err != nil {
			return nil, err
		}
	}

	var refresh googleauth.RefreshTokenStore
	if cfg.TokenBackend == config.BackendKeyring {
		store, err := secrets.OpenDefault()
		if err != nil {
			return nil, err
		}
		refresh = store
	}

	return googleauth.NewTokenStore(googleauth.Options{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
		Scopes:       cfg.GoogleScopes,
	}, path, refresh), nil
}

// credentialSource is the slice of TokenStore the commands consume.
type credentialSource interface {
	Client(ctx context.Context) (*http.Client, error)
	Authorize(ctx context.Context, opts googleauth.AuthorizeOptions) (*oauth2.Token, error)
}

// newSourceClient builds the authenticated Google Photos client. An expired
// credential is refreshed transparently; a missing credential or a rejected
// refresh token falls back to interactive authorization when prompting is
// allowed.
func newSourceClient(ctx context.Context, flags *RootFlags, cfg *config.Config) (*gphotos.Client, error) {
	store, err := newTokenStore(cfg)
	if err != nil {
		return nil, err
	}
	httpClient, err := authedClient(ctx, flags, store)
	if err != nil {
		return nil, err
	}
	httpClient.Timeout = cfg.RequestTimeout
	return gphotos.NewClient(httpClient, cfg.PageSize)
}

func authedClient(ctx context.Context, flags *RootFlags, store credentialSource) (*http.Client, error) {
	httpClient, err := store.Client(ctx)
	if err == nil {
		return httpClient, nil
	}

	var authErr *googleauth.AuthRequiredError
	var refreshErr *googleauth.RefreshFailedError
	switch {
	case errors.As(err, &refreshErr):
		if flags.NoInput {
			return nil, err
		}
		slog.Warn("stored credential no longer refreshes, re-authorizing", "error", refreshErr.Cause)
	case errors.As(err, &authErr):
		if flags.NoInput {
			return nil, err
		}
		slog.Info("no stored credential, starting authorization")
	default:
		return nil, err
	}

	if _, err := store.Authorize(ctx, googleauth.AuthorizeOptions{
		Stdin:  os.Stdin,
		Stderr: os.Stderr,
	}); err != nil {
		return nil, err
	}
	return store.Client(ctx)
}

func newDestClient(cfg *config.Config) *immich.Client {
	deviceID := "photosync"
	if host, err := os.Hostname(); err == nil && host != "" {
		deviceID = "photosync-" + host
	}
	return immich.NewClient(cfg.ImmichBaseURL, cfg.ImmichAPIKey, deviceID, cfg.RequestTimeout)
}
