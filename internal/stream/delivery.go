package stream

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// DefaultChunkSize caps the bytes returned for one range request.
const DefaultChunkSize int64 = 1_000_000

const (
	PlaylistCacheControl = "no-cache"
	SegmentCacheControl  = "public, max-age=31536000, immutable"
)

// DefaultContentTypes are the HLS types forced at the boundary; both differ
// from generic MIME defaults.
var DefaultContentTypes = map[ContentKind]string{
	KindPlaylist: "application/vnd.apple.mpegurl",
	KindSegment:  "video/MP2T",
}

// Response describes what Serve writes: status, headers and the byte window
// of the file that forms the body.
type Response struct {
	Status int
	Header http.Header
	Offset int64
	Length int64
}

// Delivery serves resolved package files, honoring single byte ranges on
// segments. It holds no per-request state.
type Delivery struct {
	chunkSize    int64
	contentTypes map[ContentKind]string
}

// NewDelivery returns a Delivery. chunkSize <= 0 selects DefaultChunkSize and
// a nil contentTypes selects DefaultContentTypes. The map is copied.
func NewDelivery(chunkSize int64, contentTypes map[ContentKind]string) *Delivery {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if contentTypes == nil {
		contentTypes = DefaultContentTypes
	}
	types := make(map[ContentKind]string, len(contentTypes))
	for k, v := range contentTypes {
		types[k] = v
	}
	return &Delivery{chunkSize: chunkSize, contentTypes: types}
}

// Plan computes the response for a file of the given kind and size.
// Without a usable Range header the whole file is sent with 200. For segments
// a "bytes=<start>-[end]" header yields 206 with at most chunkSize bytes
// starting at start. Malformed ranges are ignored; a start at or past the end
// of the file yields 416.
func (d *Delivery) Plan(kind ContentKind, size int64, rangeHeader string) Response {
	h := make(http.Header)
	if ct, ok := d.contentTypes[kind]; ok {
		h.Set("Content-Type", ct)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}

	if kind != KindSegment {
		h.Set("Cache-Control", PlaylistCacheControl)
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		return Response{Status: http.StatusOK, Header: h, Offset: 0, Length: size}
	}

	h.Set("Cache-Control", SegmentCacheControl)
	h.Set("Accept-Ranges", "bytes")

	start, end, ok := parseRange(rangeHeader)
	if !ok {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		return Response{Status: http.StatusOK, Header: h, Offset: 0, Length: size}
	}
	if start >= size {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		h.Set("Content-Length", "0")
		return Response{Status: http.StatusRequestedRangeNotSatisfiable, Header: h}
	}

	last := min(start+d.chunkSize-1, size-1)
	if end >= 0 && end < last {
		last = end
	}
	length := last - start + 1
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, last, size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	return Response{Status: http.StatusPartialContent, Header: h, Offset: start, Length: length}
}

// Serve writes f to w per Plan, streaming the body in bounded reads. It
// returns the number of body bytes written.
func (d *Delivery) Serve(w http.ResponseWriter, r *http.Request, f *File) (int64, error) {
	resp := d.Plan(f.Kind, f.Size, r.Header.Get("Range"))
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead || resp.Length <= 0 {
		return 0, nil
	}
	return io.Copy(w, io.NewSectionReader(f, resp.Offset, resp.Length))
}

// parseRange accepts the single-range form "bytes=<start>-" with an optional
// end. end is -1 when absent.
func parseRange(header string) (start, end int64, ok bool) {
	header = strings.TrimSpace(header)
	rng, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	endStr = strings.TrimSpace(endStr)
	if endStr == "" {
		return start, -1, true
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}
