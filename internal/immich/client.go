// Package immich is the destination-side client. It speaks the current
// Immich HTTP API and falls back to the legacy route of each call exactly
// once when the server answers 404, so one binary serves both server
// generations.
package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// routeTier records which endpoint generation answered a call.
type routeTier int

const (
	tierCurrent routeTier = iota
	tierLegacy
	tierFailed
)

func (t routeTier) String() string {
	switch t {
	case tierCurrent:
		return "current"
	case tierLegacy:
		return "legacy"
	default:
		return "failed"
	}
}

// routeResult is the typed outcome of a two-tier request.
type routeResult struct {
	tier   routeTier
	status int
	body   []byte
}

// Album is an Immich album as returned by the list and create calls.
type Album struct {
	ID         string `json:"id"`
	AlbumName  string `json:"albumName"`
	AssetCount int    `json:"assetCount"`
}

// UploadResult is the server's answer to an asset upload. Status is
// "created" for new assets and "duplicate" when the server already holds
// the same bytes; both carry a usable asset id.
type UploadResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AssetMeta is the metadata sent alongside the asset bytes.
type AssetMeta struct {
	Filename   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
}

// NewClient builds a client for the Immich server at baseURL. deviceID
// namespaces uploaded assets so re-uploads from this installation are
// recognized as duplicates by the server.
func NewClient(baseURL, apiKey, deviceID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

// Ping verifies the server is reachable. Newer servers answer on
// /api/server/ping, older ones on /api/server-info/ping.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.doTwoTier(ctx, "/api/server/ping", "/api/server-info/ping", func(path string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, nil, "")
	})
	if err != nil {
		return fmt.Errorf("ping server: %w", err)
	}
	var pong struct {
		Res string `json:"res"`
	}
	if err := json.Unmarshal(res.body, &pong); err != nil || pong.Res != "pong" {
		return fmt.Errorf("ping server: unexpected response %q", res.body)
	}
	return nil
}

// ListAlbums returns every album on the server. A failed call is always an
// error; the caller never has to distinguish "no albums" from "could not
// list".
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	res, err := c.doTwoTier(ctx, "/api/albums", "/api/album", func(path string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, nil, "")
	})
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	var albums []Album
	if err := json.Unmarshal(res.body, &albums); err != nil {
		return nil, fmt.Errorf("list albums: decode response: %w", err)
	}
	return albums, nil
}

// CreateAlbum creates an empty album with the given name and returns it.
func (c *Client) CreateAlbum(ctx context.Context, name string) (*Album, error) {
	payload, err := json.Marshal(map[string]string{"albumName": name})
	if err != nil {
		return nil, fmt.Errorf("create album: encode request: %w", err)
	}
	res, err := c.doTwoTier(ctx, "/api/albums", "/api/album", func(path string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	})
	if err != nil {
		return nil, fmt.Errorf("create album %q: %w", name, err)
	}
	var album Album
	if err := json.Unmarshal(res.body, &album); err != nil {
		return nil, fmt.Errorf("create album %q: decode response: %w", name, err)
	}
	if album.ID == "" {
		return nil, fmt.Errorf("create album %q: server returned no album id", name)
	}
	return &album, nil
}

// UploadAsset streams one media file to the server and returns its asset id.
// asset is read fully into the multipart body per attempt, so the fallback
// can rebuild the request; the caller passes the file path via meta and an
// open reader.
func (c *Client) UploadAsset(ctx context.Context, asset io.Reader, meta AssetMeta) (*UploadResult, error) {
	// Buffer once so the legacy retry does not re-read a spent stream.
	data, err := io.ReadAll(asset)
	if err != nil {
		return nil, fmt.Errorf("upload %s: read asset: %w", meta.Filename, err)
	}

	res, err := c.doTwoTier(ctx, "/api/assets", "/api/asset/upload", func(path string) (*http.Request, error) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)

		fw, err := mw.CreateFormFile("assetData", meta.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}

		fields := map[string]string{
			"deviceAssetId":  fmt.Sprintf("%s-%s", c.deviceID, meta.Filename),
			"deviceId":       c.deviceID,
			"fileCreatedAt":  meta.CreatedAt.UTC().Format(time.RFC3339),
			"fileModifiedAt": meta.ModifiedAt.UTC().Format(time.RFC3339),
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		return c.newRequest(ctx, http.MethodPost, path, body, mw.FormDataContentType())
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", meta.Filename, err)
	}

	var result UploadResult
	if err := json.Unmarshal(res.body, &result); err != nil {
		return nil, fmt.Errorf("upload %s: decode response: %w", meta.Filename, err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("upload %s: server returned no asset id", meta.Filename)
	}
	if result.Status == "duplicate" {
		slog.Debug("server already holds asset", "filename", meta.Filename, "asset_id", result.ID)
	}
	return &result, nil
}

// AddAssets attaches uploaded assets to an album.
func (c *Client) AddAssets(ctx context.Context, albumID string, assetIDs []string) error {
	payload, err := json.Marshal(map[string][]string{"ids": assetIDs})
	if err != nil {
		return fmt.Errorf("add assets: encode request: %w", err)
	}
	current := fmt.Sprintf("/api/albums/%s/assets", albumID)
	legacy := fmt.Sprintf("/api/album/%s/assets", albumID)
	_, err = c.doTwoTier(ctx, current, legacy, func(path string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(payload), "application/json")
	})
	if err != nil {
		return fmt.Errorf("add assets to album %s: %w", albumID, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// doTwoTier performs the current-generation request and, only when the
// server answers 404, rebuilds and performs the legacy one. The fallback
// happens at most once; any other failure is final.
func (c *Client) doTwoTier(ctx context.Context, currentPath, legacyPath string, build func(path string) (*http.Request, error)) (*routeResult, error) {
	res, err := c.doOnce(build, currentPath)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusNotFound {
		res.tier = tierCurrent
		return c.check(res)
	}

	slog.Debug("endpoint not found, trying legacy route", "current", currentPath, "legacy", legacyPath)
	res, err = c.doOnce(build, legacyPath)
	if err != nil {
		return nil, err
	}
	res.tier = tierLegacy
	out, err := c.check(res)
	if err == nil {
		slog.Debug("request served", "path", legacyPath, "tier", out.tier.String())
	}
	return out, err
}

func (c *Client) doOnce(build func(path string) (*http.Request, error), path string) (*routeResult, error) {
	req, err := build(path)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &routeResult{status: resp.StatusCode, body: body}, nil
}

func (c *Client) check(res *routeResult) (*routeResult, error) {
	if res.status < 200 || res.status > 299 {
		res.tier = tierFailed
		return nil, &APIError{Status: res.status, Body: string(res.body)}
	}
	return res, nil
}

// APIError is a non-2xx Immich response after the fallback, if any, has
// been exhausted.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("immich API error: status %d: %s", e.Status, body)
}
