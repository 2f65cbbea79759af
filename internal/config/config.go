// Package config loads and validates the photosync configuration.
//
// Settings come from an optional YAML file overlaid with PHOTOSYNC_*
// environment variables. The resulting Config is built once at startup and
// passed by reference into the components that need it; there is no global
// configuration state.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultScope is the Photos Library read scope requested when
	// google_scopes is not configured. Sync only reads from Google.
	DefaultScope = "https://www.googleapis.com/auth/photoslibrary.readonly"

	// DefaultRedirectURI must match a redirect URI registered on the OAuth
	// client. The callback listener binds to exactly this host and port.
	DefaultRedirectURI = "http://127.0.0.1:8968/callback"

	DefaultPageSize       = 100
	DefaultRequestTimeout = 5 * time.Minute

	BackendFile    = "file"
	BackendKeyring = "keyring"

	UnreachableAbort    = "abort"
	UnreachableContinue = "continue"
)

// AlbumMapping pairs a Google album id with the Immich album name it syncs
// into. Mappings are processed in configuration order.
type AlbumMapping struct {
	SourceAlbumID   string
	DestinationName string
}

type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleScopes       []string

	ImmichAPIKey  string
	ImmichBaseURL string

	AlbumMappings []AlbumMapping
	// AlbumIDs may list ids beyond those in AlbumMappings; ids without a
	// mapping are reported by UnmappedAlbumIDs and skipped, not fatal.
	AlbumIDs []string

	TokenPath     string
	TokenBackend  string
	LedgerPath    string
	HistoryDBPath string
	TempDir       string

	PageSize       int64
	RequestTimeout time.Duration
	OnUnreachable  string
}

// fileConfig mirrors the YAML layout. Mapping and list values use the same
// comma-separated forms as the environment variables so there is a single
// parser for both sources.
type fileConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURI  string `yaml:"google_redirect_uri"`
	GoogleScopes       string `yaml:"google_scopes"`
	ImmichAPIKey       string `yaml:"immich_api_key"`
	ImmichBaseURL      string `yaml:"immich_base_url"`
	AlbumIDs           string `yaml:"album_ids"`
	AlbumMappings      string `yaml:"album_mappings"`
	TokenPath          string `yaml:"token_path"`
	TokenBackend       string `yaml:"token_backend"`
	LedgerPath         string `yaml:"ledger_path"`
	HistoryDBPath      string `yaml:"history_db_path"`
	TempDir            string `yaml:"temp_dir"`
	PageSize           string `yaml:"page_size"`
	RequestTimeout     string `yaml:"request_timeout"`
	OnUnreachable      string `yaml:"on_unreachable"`
}

// MissingConfigError lists every required setting that was absent so the
// operator can fix the configuration in one pass.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

type InvalidConfigError struct {
	Key    string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// Load reads the YAML file at path (if it exists), overlays PHOTOSYNC_*
// environment variables, applies defaults and validates. A missing file is
// not an error; missing required settings are.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &fc); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Env-only configuration is fine.
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	overlayEnv(&fc)

	cfg, err := build(fc)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayEnv(fc *fileConfig) {
	for key, dst := range map[string]*string{
		"GOOGLE_CLIENT_ID":     &fc.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &fc.GoogleClientSecret,
		"GOOGLE_REDIRECT_URI":  &fc.GoogleRedirectURI,
		"GOOGLE_SCOPES":        &fc.GoogleScopes,
		"IMMICH_API_KEY":       &fc.ImmichAPIKey,
		"IMMICH_BASE_URL":      &fc.ImmichBaseURL,
		"ALBUM_IDS":            &fc.AlbumIDs,
		"ALBUM_MAPPINGS":       &fc.AlbumMappings,
		"TOKEN_PATH":           &fc.TokenPath,
		"TOKEN_BACKEND":        &fc.TokenBackend,
		"LEDGER_PATH":          &fc.LedgerPath,
		"HISTORY_DB_PATH":      &fc.HistoryDBPath,
		"TEMP_DIR":             &fc.TempDir,
		"PAGE_SIZE":            &fc.PageSize,
		"REQUEST_TIMEOUT":      &fc.RequestTimeout,
		"ON_UNREACHABLE":       &fc.OnUnreachable,
	} {
		if v := os.Getenv("PHOTOSYNC_" + key); v != "" {
			*dst = v
		}
	}
}

func build(fc fileConfig) (*Config, error) {
	cfg := &Config{
		GoogleClientID:     strings.TrimSpace(fc.GoogleClientID),
		GoogleClientSecret: strings.TrimSpace(fc.GoogleClientSecret),
		GoogleRedirectURI:  strings.TrimSpace(fc.GoogleRedirectURI),
		GoogleScopes:       splitList(fc.GoogleScopes),
		ImmichAPIKey:       strings.TrimSpace(fc.ImmichAPIKey),
		ImmichBaseURL:      strings.TrimRight(strings.TrimSpace(fc.ImmichBaseURL), "/"),
		AlbumIDs:           splitList(fc.AlbumIDs),
		TokenPath:          strings.TrimSpace(fc.TokenPath),
		TokenBackend:       strings.TrimSpace(fc.TokenBackend),
		LedgerPath:         strings.TrimSpace(fc.LedgerPath),
		HistoryDBPath:      strings.TrimSpace(fc.HistoryDBPath),
		TempDir:            strings.TrimSpace(fc.TempDir),
		OnUnreachable:      strings.TrimSpace(fc.OnUnreachable),
		PageSize:           DefaultPageSize,
		RequestTimeout:     DefaultRequestTimeout,
	}

	mappings, err := ParseAlbumMappings(fc.AlbumMappings)
	if err != nil {
		return nil, err
	}
	cfg.AlbumMappings = mappings

	if s := strings.TrimSpace(fc.PageSize); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return nil, &InvalidConfigError{Key: "page_size", Reason: "expected a positive integer"}
		}
		cfg.PageSize = n
	}
	if s := strings.TrimSpace(fc.RequestTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, &InvalidConfigError{Key: "request_timeout", Reason: "expected a positive duration like 90s or 5m"}
		}
		cfg.RequestTimeout = d
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GoogleRedirectURI == "" {
		c.GoogleRedirectURI = DefaultRedirectURI
	}
	if len(c.GoogleScopes) == 0 {
		c.GoogleScopes = []string{DefaultScope}
	}
	if c.TokenBackend == "" {
		c.TokenBackend = BackendFile
	}
	if c.OnUnreachable == "" {
		c.OnUnreachable = UnreachableAbort
	}
	if c.TokenPath == "" {
		if p, err := TokenPath(); err == nil {
			c.TokenPath = p
		}
	}
	if c.LedgerPath == "" {
		if p, err := LedgerPath(); err == nil {
			c.LedgerPath = p
		}
	}
	if c.HistoryDBPath == "" {
		if p, err := HistoryDBPath(); err == nil {
			c.HistoryDBPath = p
		}
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.GoogleClientID == "" {
		missing = append(missing, "google_client_id")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "google_client_secret")
	}
	if c.ImmichAPIKey == "" {
		missing = append(missing, "immich_api_key")
	}
	if c.ImmichBaseURL == "" {
		missing = append(missing, "immich_base_url")
	}
	if len(c.AlbumMappings) == 0 {
		missing = append(missing, "album_mappings")
	}
	if len(missing) > 0 {
		return &MissingConfigError{Keys: missing}
	}

	if u, err := url.Parse(c.ImmichBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &InvalidConfigError{Key: "immich_base_url", Reason: "expected an absolute URL like https://immich.example.org"}
	}
	if u, err := url.Parse(c.GoogleRedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
		return &InvalidConfigError{Key: "google_redirect_uri", Reason: "expected an absolute URL"}
	}
	switch c.TokenBackend {
	case BackendFile, BackendKeyring:
	default:
		return &InvalidConfigError{Key: "token_backend", Reason: "expected file or keyring"}
	}
	switch c.OnUnreachable {
	case UnreachableAbort, UnreachableContinue:
	default:
		return &InvalidConfigError{Key: "on_unreachable", Reason: "expected abort or continue"}
	}
	return nil
}

// UnmappedAlbumIDs returns configured album ids that have no name mapping,
// sorted. Callers warn about these and skip them.
func (c *Config) UnmappedAlbumIDs() []string {
	mapped := make(map[string]struct{}, len(c.AlbumMappings))
	for _, m := range c.AlbumMappings {
		mapped[m.SourceAlbumID] = struct{}{}
	}
	var unmapped []string
	for _, id := range c.AlbumIDs {
		if _, ok := mapped[id]; !ok {
			unmapped = append(unmapped, id)
		}
	}
	sort.Strings(unmapped)
	return unmapped
}

// ParseAlbumMappings parses the comma-separated "sourceAlbumID:name" form
// shared by the env variable and the YAML key. Album names may contain
// colons; only the first colon separates id from name.
func ParseAlbumMappings(s string) ([]AlbumMapping, error) {
	var mappings []AlbumMapping
	for _, pair := range splitList(s) {
		id, name, ok := strings.Cut(pair, ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			return nil, &InvalidConfigError{Key: "album_mappings", Reason: fmt.Sprintf("malformed pair %q (expected id:name)", pair)}
		}
		mappings = append(mappings, AlbumMapping{SourceAlbumID: id, DestinationName: name})
	}
	return mappings, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
