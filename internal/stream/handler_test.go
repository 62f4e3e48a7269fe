package stream

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	res, root := newTestPackage(t)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewHandler(res, NewDelivery(0, nil), log, nil)

	r := chi.NewRouter()
	r.Mount("/stream", h.Routes())
	return r, root
}

func get(router http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_serves_package(t *testing.T) {
	router, root := newTestRouter(t)

	cases := []struct {
		name         string
		target       string
		contentType  string
		cacheControl string
		file         string
	}{
		{name: "master", target: "/stream/asset-1/master.m3u8", contentType: "application/vnd.apple.mpegurl", cacheControl: "no-cache", file: "asset-1/master.m3u8"},
		{name: "variant", target: "/stream/asset-1/360p/index.m3u8", contentType: "application/vnd.apple.mpegurl", cacheControl: "no-cache", file: "asset-1/360p/index.m3u8"},
		{name: "segment", target: "/stream/asset-1/720p/segment_000.ts", contentType: "video/MP2T", cacheControl: SegmentCacheControl, file: "asset-1/720p/segment_000.ts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(router, tc.target, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Content-Type"); got != tc.contentType {
				t.Errorf("Content-Type: got %q want %q", got, tc.contentType)
			}
			if got := rec.Header().Get("Cache-Control"); got != tc.cacheControl {
				t.Errorf("Cache-Control: got %q want %q", got, tc.cacheControl)
			}
			want, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(tc.file)))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(rec.Body.Bytes(), want) {
				t.Errorf("body: got %q want %q", rec.Body.Bytes(), want)
			}
		})
	}
}

func TestHandler_segment_range(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := get(router, "/stream/asset-1/360p/segment_000.ts", map[string]string{"Range": "bytes=0-"})
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-11/12" {
		t.Errorf("Content-Range: got %q", got)
	}
	if rec.Body.String() != "segment-360p" {
		t.Errorf("body: got %q", rec.Body.String())
	}

	rec = get(router, "/stream/asset-1/360p/segment_000.ts", map[string]string{"Range": "bytes=100-"})
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
}

func TestHandler_errors(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name   string
		target string
		status int
	}{
		{name: "unknown_asset_master", target: "/stream/nope/master.m3u8", status: 404},
		{name: "unknown_asset_variant", target: "/stream/nope/360p/index.m3u8", status: 404},
		{name: "unknown_asset_segment", target: "/stream/nope/360p/segment_000.ts", status: 404},
		{name: "unknown_quality", target: "/stream/asset-1/4k/index.m3u8", status: 404},
		{name: "non_ts_segment", target: "/stream/asset-1/360p/segment_000.mp4", status: 400},
		{name: "non_ts_unknown_asset", target: "/stream/nope/360p/passwd", status: 400},
		{name: "encoded_traversal", target: "/stream/..%2F..%2Fetc/master.m3u8", status: 404},
		{name: "unrouted", target: "/stream/asset-1", status: 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(router, tc.target, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_symlink_escape_forbidden(t *testing.T) {
	router, root := newTestRouter(t)
	outside := filepath.Join(t.TempDir(), "outside.ts")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "asset-1", "360p", "leak.ts")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	rec := get(router, "/stream/asset-1/360p/leak.ts", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Error("escaped file content leaked")
	}
}

func TestHandler_head(t *testing.T) {
	router, root := newTestRouter(t)

	for _, target := range []string{
		"/stream/asset-1/master.m3u8",
		"/stream/asset-1/360p/index.m3u8",
		"/stream/asset-1/360p/segment_000.ts",
	} {
		t.Run(target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodHead, target, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("HEAD must not send a body, got %d bytes", rec.Body.Len())
			}
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(target[len("/stream/"):])))
			if err != nil {
				t.Fatal(err)
			}
			if got := rec.Header().Get("Content-Length"); got != strconv.FormatInt(info.Size(), 10) {
				t.Errorf("Content-Length: got %q want %d", got, info.Size())
			}
		})
	}

	req := httptest.NewRequest(http.MethodHead, "/stream/nope/master.m3u8", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("HEAD for unknown asset: expected 404, got %d", rec.Code)
	}
}
