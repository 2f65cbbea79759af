package immich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "secret-key", "device-1", 10*time.Second), ts
}

func TestListAlbumsCurrentRoute(t *testing.T) {
	var gotKey string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/albums" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewEncoder(w).Encode([]Album{
			{ID: "alb-1", AlbumName: "Family", AssetCount: 3},
		})
	}))

	albums, err := c.ListAlbums(context.Background())
	if err != nil {
		t.Fatalf("ListAlbums: %v", err)
	}
	if gotKey != "secret-key" {
		t.Errorf("api key header: got %q", gotKey)
	}
	if len(albums) != 1 || albums[0].AlbumName != "Family" {
		t.Errorf("unexpected albums: %+v", albums)
	}
}

func TestListAlbumsLegacyFallbackExactlyOnce(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/albums":
			http.NotFound(w, r)
		case "/api/album":
			_ = json.NewEncoder(w).Encode([]Album{{ID: "alb-1", AlbumName: "Old"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	albums, err := c.ListAlbums(context.Background())
	if err != nil {
		t.Fatalf("ListAlbums: %v", err)
	}
	if len(albums) != 1 || albums[0].AlbumName != "Old" {
		t.Errorf("unexpected albums: %+v", albums)
	}
	want := []string{"/api/albums", "/api/album"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("expected one fallback hop %v, got %v", want, paths)
	}
}

func TestListAlbumsLegacy404IsFinal(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))

	_, err := c.ListAlbums(context.Background())
	if err == nil {
		t.Fatal("expected error when both routes 404")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected *APIError with 404, got %v", err)
	}
	if calls != 2 {
		t.Errorf("fallback must happen at most once: %d calls", calls)
	}
}

func TestListAlbumsServerErrorIsError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	albums, err := c.ListAlbums(context.Background())
	if err == nil {
		t.Fatal("expected error, not an empty album list")
	}
	if albums != nil {
		t.Errorf("failed list must not return albums: %+v", albums)
	}
}

func TestCreateAlbum(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/albums" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req["albumName"] != "Family" {
			t.Errorf("albumName: got %q", req["albumName"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Album{ID: "alb-new", AlbumName: "Family"})
	}))

	album, err := c.CreateAlbum(context.Background(), "Family")
	if err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}
	if album.ID != "alb-new" {
		t.Errorf("unexpected album: %+v", album)
	}
}

func TestUploadAsset(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/assets" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("deviceId"); got != "device-1" {
			t.Errorf("deviceId: got %q", got)
		}
		if got := r.FormValue("fileCreatedAt"); got != "2024-03-01T10:00:00Z" {
			t.Errorf("fileCreatedAt: got %q", got)
		}
		f, hdr, err := r.FormFile("assetData")
		if err != nil {
			t.Fatalf("assetData: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "a.jpg" {
			t.Errorf("filename: got %q", hdr.Filename)
		}
		b, _ := io.ReadAll(f)
		if string(b) != "jpeg-bytes" {
			t.Errorf("asset bytes: got %q", b)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(UploadResult{ID: "asset-1", Status: "created"})
	}))

	res, err := c.UploadAsset(context.Background(), strings.NewReader("jpeg-bytes"), AssetMeta{
		Filename:   "a.jpg",
		CreatedAt:  created,
		ModifiedAt: created,
	})
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if res.ID != "asset-1" || res.Status != "created" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestUploadAssetLegacyRouteRebuildsBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/assets":
			http.NotFound(w, r)
		case "/api/asset/upload":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart on legacy route: %v", err)
			}
			f, _, err := r.FormFile("assetData")
			if err != nil {
				t.Fatalf("assetData: %v", err)
			}
			b, _ := io.ReadAll(f)
			f.Close()
			if string(b) != "payload" {
				t.Errorf("legacy request body not rebuilt: got %q", b)
			}
			_ = json.NewEncoder(w).Encode(UploadResult{ID: "asset-9", Status: "created"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	res, err := c.UploadAsset(context.Background(), strings.NewReader("payload"), AssetMeta{
		Filename:  "b.jpg",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if res.ID != "asset-9" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestUploadDuplicateIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(UploadResult{ID: "asset-dup", Status: "duplicate"})
	}))

	res, err := c.UploadAsset(context.Background(), strings.NewReader("x"), AssetMeta{Filename: "c.jpg"})
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if res.ID != "asset-dup" || res.Status != "duplicate" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestAddAssets(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/albums/alb-1/assets" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req["ids"]) != 2 || req["ids"][0] != "a1" || req["ids"][1] != "a2" {
			t.Errorf("ids: got %v", req["ids"])
		}
		w.Write([]byte(`[{"id":"a1","success":true},{"id":"a2","success":true}]`))
	}))

	if err := c.AddAssets(context.Background(), "alb-1", []string{"a1", "a2"}); err != nil {
		t.Fatalf("AddAssets: %v", err)
	}
}

func TestAddAssetsLegacyRoute(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/album/alb-1/assets" {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))

	if err := c.AddAssets(context.Background(), "alb-1", []string{"a1"}); err != nil {
		t.Fatalf("AddAssets: %v", err)
	}
	if len(paths) != 2 || paths[1] != "/api/album/alb-1/assets" {
		t.Errorf("expected legacy hop, got %v", paths)
	}
}

func TestPingModernAndLegacy(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/server/ping" {
			w.Write([]byte(`{"res":"pong"}`))
			return
		}
		http.NotFound(w, r)
	}))
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping modern: %v", err)
	}

	c2, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/server-info/ping" {
			w.Write([]byte(`{"res":"pong"}`))
			return
		}
		http.NotFound(w, r)
	}))
	if err := c2.Ping(context.Background()); err != nil {
		t.Errorf("Ping legacy: %v", err)
	}
}

func TestPingUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k", "d", 500*time.Millisecond)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}
