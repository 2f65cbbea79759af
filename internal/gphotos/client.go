// Package gphotos is a thin client for the Google Photos Library API. It
// lists albums and media items and streams original-quality media; all
// authentication is carried by the injected HTTP client, whose token source
// refreshes transparently.
package gphotos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	photoslibrary "github.com/nekr0z/gphotoslibrary"
	"google.golang.org/api/googleapi"
)

const (
	// retryAttempts bounds retries of a listing page on transient API
	// errors (rate limit, server errors). Downloads are not retried here;
	// a failed transfer is handled by the run loop.
	retryAttempts = 3
	retryWait     = 2 * time.Second
)

// Album is the subset of album metadata the sync and the list-albums
// command need.
type Album struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ItemCount    int64  `json:"itemCount"`
	ShareableURL string `json:"shareableUrl,omitempty"`
	Shared       bool   `json:"shared"`
}

// MediaItem identifies one photo or video in an album. BaseURL is
// short-lived and only valid for the listing call that produced it.
type MediaItem struct {
	ID        string
	Filename  string
	MimeType  string
	BaseURL   string
	IsVideo   bool
	CreatedAt time.Time
}

// AlbumNotFoundError means the album id is neither an owned nor a shared
// album reachable with the current credential.
type AlbumNotFoundError struct {
	AlbumID string
	Cause   error
}

func (e *AlbumNotFoundError) Error() string {
	return fmt.Sprintf("album %s not found (not owned and not shared)", e.AlbumID)
}

func (e *AlbumNotFoundError) Unwrap() error {
	return e.Cause
}

type Client struct {
	svc      *photoslibrary.Service
	http     *http.Client
	pageSize int64
}

// NewClient builds a Photos client on top of an authenticated HTTP client.
// pageSize tunes listing calls only; it does not affect correctness.
func NewClient(httpClient *http.Client, pageSize int64) (*Client, error) {
	svc, err := photoslibrary.New(httpClient)
	if err != nil {
		return nil, fmt.Errorf("create photos library service: %w", err)
	}
	return &Client{svc: svc, http: httpClient, pageSize: pageSize}, nil
}

// ListAlbums returns every album owned by the authorized account.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	var albums []Album
	pageToken := ""
	for {
		resp, err := c.svc.Albums.List().
			PageSize(c.pageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("list albums: %w", err)
		}
		for _, a := range resp.Albums {
			albums = append(albums, fromAPIAlbum(a, false))
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return albums, nil
		}
	}
}

// ListSharedAlbums returns every album shared with the authorized account.
func (c *Client) ListSharedAlbums(ctx context.Context) ([]Album, error) {
	var albums []Album
	pageToken := ""
	for {
		resp, err := c.svc.SharedAlbums.List().
			PageSize(c.pageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("list shared albums: %w", err)
		}
		for _, a := range resp.SharedAlbums {
			albums = append(albums, fromAPIAlbum(a, true))
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return albums, nil
		}
	}
}

// GetAlbum verifies the album is reachable, first as an owned album and then
// among shared albums. Unreachable albums surface as *AlbumNotFoundError so
// the run loop can skip the pair without aborting the run.
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	a, err := c.svc.Albums.Get(albumID).Context(ctx).Do()
	if err == nil {
		album := fromAPIAlbum(a, false)
		return &album, nil
	}

	shared, listErr := c.ListSharedAlbums(ctx)
	if listErr != nil {
		return nil, &AlbumNotFoundError{AlbumID: albumID, Cause: listErr}
	}
	for i := range shared {
		if shared[i].ID == albumID {
			return &shared[i], nil
		}
	}
	return nil, &AlbumNotFoundError{AlbumID: albumID, Cause: err}
}

// ListAlbumItems returns the album's media items in listing order,
// paginating until the API stops returning a page token. Transient API
// errors retry the page a bounded number of times.
func (c *Client) ListAlbumItems(ctx context.Context, albumID string) ([]MediaItem, error) {
	var items []MediaItem
	pageToken := ""
	for {
		req := &photoslibrary.SearchMediaItemsRequest{
			AlbumId:   albumID,
			PageSize:  c.pageSize,
			PageToken: pageToken,
		}

		var resp *photoslibrary.SearchMediaItemsResponse
		var err error
		for attempt := 1; ; attempt++ {
			resp, err = c.svc.MediaItems.Search(req).Context(ctx).Do()
			if err == nil || attempt >= retryAttempts || !isTransient(err) {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryWait):
			}
		}
		if err != nil {
			return nil, fmt.Errorf("list items of album %s: %w", albumID, err)
		}

		for _, m := range resp.MediaItems {
			item := MediaItem{
				ID:       m.Id,
				Filename: m.Filename,
				MimeType: m.MimeType,
				BaseURL:  m.BaseUrl,
			}
			if m.MediaMetadata != nil {
				if m.MediaMetadata.Photo == nil {
					item.IsVideo = true
				}
				if ts, err := time.Parse(time.RFC3339, m.MediaMetadata.CreationTime); err == nil {
					item.CreatedAt = ts
				}
			}
			items = append(items, item)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return items, nil
		}
	}
}

// Download streams the original-quality bytes of a media item. The caller
// owns the returned body.
func (c *Client) Download(ctx context.Context, item MediaItem) (io.ReadCloser, error) {
	if item.BaseURL == "" {
		return nil, fmt.Errorf("media item %s has no download URL", item.ID)
	}

	// "=d" requests the original photo bytes, "=dv" the original video;
	// without a suffix the API serves a scaled-down preview.
	url := item.BaseURL + "=d"
	if item.IsVideo {
		url = item.BaseURL + "=dv"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", item.Filename, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %s", item.Filename, resp.Status)
	}
	return resp.Body, nil
}

func fromAPIAlbum(a *photoslibrary.Album, shared bool) Album {
	album := Album{
		ID:        a.Id,
		Title:     a.Title,
		ItemCount: a.TotalMediaItems,
		Shared:    shared,
	}
	if a.ShareInfo != nil {
		album.ShareableURL = a.ShareInfo.ShareableUrl
	}
	return album
}

func isTransient(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}
