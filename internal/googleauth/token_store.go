// Package googleauth owns the OAuth credential lifecycle for the Google
// Photos source: persistence, expiry-aware refresh, and the two interactive
// authorization flows.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ExpiryLookahead is how close to expiry a token may get before it is
// refreshed proactively, so a token never expires mid-request.
const ExpiryLookahead = 5 * time.Minute

// Options identifies the OAuth client. RedirectURI must already be
// registered on the client; the listener flow binds to exactly its
// host:port and the exchange is rejected otherwise.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// RefreshTokenStore abstracts optional out-of-file storage for the refresh
// token (the OS keyring). When set on a TokenStore, the refresh token is
// elided from the token file and kept in the secret store instead.
type RefreshTokenStore interface {
	GetRefreshToken() (string, error)
	SetRefreshToken(token string) error
	DeleteRefreshToken() error
}

// TokenStore persists the OAuth credential as a single JSON file, written
// atomically on every change. One process, one writer; no locking.
type TokenStore struct {
	path    string
	cfg     oauth2.Config
	refresh RefreshTokenStore

	mu sync.Mutex // guards file writes from the persisting token source
}

func NewTokenStore(opts Options, path string, refresh RefreshTokenStore) *TokenStore {
	return &TokenStore{
		path: path,
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  opts.RedirectURI,
			Scopes:       opts.Scopes,
		},
		refresh: refresh,
	}
}

// Path returns the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the persisted credential. A missing file returns (nil, nil):
// first run, interactive authorization needed.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}

	if s.refresh != nil {
		rt, err := s.refresh.GetRefreshToken()
		if err != nil {
			return nil, fmt.Errorf("read refresh token from secret store: %w", err)
		}
		tok.RefreshToken = rt
	}

	return &tok, nil
}

// Save persists the credential, overwriting the previous record atomically.
// With a secret store configured the refresh token goes there and the file
// keeps only the short-lived fields.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk := *tok
	if s.refresh != nil && tok.RefreshToken != "" {
		if err := s.refresh.SetRefreshToken(tok.RefreshToken); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
		onDisk.RefreshToken = ""
	}

	b, err := json.MarshalIndent(&onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit token: %w", err)
	}
	return nil
}

// Delete removes the persisted credential. Missing state is not an error.
func (s *TokenStore) Delete() error {
	if s.refresh != nil {
		if err := s.refresh.DeleteRefreshToken(); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// ExpiringSoon reports whether the token's expiry falls within
// ExpiryLookahead of now. Tokens without an expiry never report true.
func ExpiringSoon(tok *oauth2.Token, now time.Time) bool {
	if tok == nil || tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.After(now.Add(ExpiryLookahead))
}

// Refresh exchanges the refresh token for a new access token and persists
// the result. If the response omits a refresh token (Google does not always
// rotate them), the prior one is preserved. Failure is reported as a
// *RefreshFailedError so callers fall back to interactive authorization.
func (s *TokenStore) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, &RefreshFailedError{Cause: fmt.Errorf("no refresh token available")}
	}

	src := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, &RefreshFailedError{Cause: err}
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := s.Save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Client returns an HTTP client whose transport injects a bearer token,
// refreshing transparently and persisting every rotation. The credential
// must already exist; absent credentials surface as *AuthRequiredError.
func (s *TokenStore) Client(ctx context.Context) (*http.Client, error) {
	tok, err := s.Load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, &AuthRequiredError{Cause: os.ErrNotExist}
	}

	if ExpiringSoon(tok, time.Now()) {
		if tok, err = s.Refresh(ctx, tok); err != nil {
			return nil, err
		}
	}

	src := &persistingTokenSource{
		store: s,
		src:   s.cfg.TokenSource(ctx, tok),
		last:  tok,
	}
	return oauth2.NewClient(ctx, src), nil
}

// persistingTokenSource writes the credential back to the store whenever the
// underlying source rotates the access token, so a mid-run refresh survives
// the process.
type persistingTokenSource struct {
	store *TokenStore
	src   oauth2.TokenSource

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && tok.AccessToken == p.last.AccessToken {
		return tok, nil
	}
	if tok.RefreshToken == "" && p.last != nil {
		tok.RefreshToken = p.last.RefreshToken
	}
	p.last = tok
	if err := p.store.Save(tok); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	return tok, nil
}
