package googleauth

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AuthorizeOptions configures an interactive authorization.
type AuthorizeOptions struct {
	// Manual prints the consent URL and reads the code (or the full
	// redirect URL) from stdin instead of running the callback listener.
	Manual       bool
	ForceConsent bool
	Timeout      time.Duration

	// Stdin/Stderr default to the process streams; tests override them.
	Stdin  io.Reader
	Stderr io.Writer
}

// Authorize runs an interactive OAuth consent flow, persists the resulting
// credential, and returns it. A missing refresh token is a warning, not a
// failure: Google omits it on repeat consent, and the stored access token is
// still usable until it expires.
func (s *TokenStore) Authorize(ctx context.Context, opts AuthorizeOptions) (*oauth2.Token, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(s.cfg.Scopes) == 0 {
		return nil, errors.New("missing scopes")
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var code string
	if opts.Manual {
		code, err = s.readCodeManually(opts, state)
	} else {
		code, err = s.waitForCallback(ctx, opts, state)
	}
	if err != nil {
		return nil, err
	}

	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		slog.Warn("no refresh token received; the session will need re-authorization once the access token expires (retry with --force-consent to get one)")
	}
	if err := s.Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *TokenStore) readCodeManually(opts AuthorizeOptions, state string) (string, error) {
	authURL := s.cfg.AuthCodeURL(state, authURLParams(opts.ForceConsent)...)

	fmt.Fprintln(opts.Stderr, "Visit this URL to authorize:")
	fmt.Fprintln(opts.Stderr, authURL)
	fmt.Fprintln(opts.Stderr)
	fmt.Fprintln(opts.Stderr, "After authorizing, paste the code shown by Google, or the full")
	fmt.Fprintln(opts.Stderr, "redirect URL from your browser's address bar.")
	fmt.Fprint(opts.Stderr, "Code: ")

	line, err := bufio.NewReader(opts.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read authorization code: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no authorization code entered")
	}

	code, gotState, parseErr := extractCodeAndState(line)
	if parseErr != nil {
		// Not a URL: treat the whole line as the bare code.
		return line, nil
	}
	if gotState != "" && gotState != state {
		return "", errors.New("state mismatch")
	}
	return code, nil
}

// waitForCallback serves the OAuth redirect on the configured redirect URI's
// host:port and resolves when the browser lands on it.
func (s *TokenStore) waitForCallback(ctx context.Context, opts AuthorizeOptions, state string) (string, error) {
	redirect, err := url.Parse(s.cfg.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", redirect.Host, err)
	}
	defer ln.Close()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			if q.Get("error") != "" {
				sendOnce(errCh, fmt.Errorf("authorization error: %s", q.Get("error")))
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("Authorization cancelled. You can close this window."))
				return
			}
			if q.Get("state") != state {
				sendOnce(errCh, errors.New("state mismatch"))
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("State mismatch. You can close this window."))
				return
			}
			code := q.Get("code")
			if code == "" {
				sendOnce(errCh, errors.New("missing code"))
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("Missing code. You can close this window."))
				return
			}
			select {
			case codeCh <- code:
			default:
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("Success! You can close this window."))
		}),
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendOnce(errCh, err)
		}
	}()

	authURL := s.cfg.AuthCodeURL(state, authURLParams(opts.ForceConsent)...)
	fmt.Fprintln(opts.Stderr, "Opening browser for authorization…")
	fmt.Fprintln(opts.Stderr, "If the browser doesn't open, visit this URL:")
	fmt.Fprintln(opts.Stderr, authURL)
	_ = openBrowser(authURL)

	select {
	case code := <-codeCh:
		_ = srv.Close()
		return code, nil
	case err := <-errCh:
		_ = srv.Close()
		return "", err
	case <-ctx.Done():
		_ = srv.Close()
		return "", ctx.Err()
	}
}

func sendOnce(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func authURLParams(forceConsent bool) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if forceConsent {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return opts
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// extractCodeAndState pulls the code and state query parameters out of a
// pasted redirect URL.
func extractCodeAndState(rawURL string) (code string, state string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme == "" {
		return "", "", errors.New("not a URL")
	}
	q := parsed.Query()
	code = q.Get("code")
	if code == "" {
		return "", "", errors.New("no code found in URL")
	}
	return code, q.Get("state"), nil
}
