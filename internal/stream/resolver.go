package stream

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"
)

const (
	masterPlaylist  = "master.m3u8"
	variantPlaylist = "index.m3u8"
	segmentSuffix   = ".ts"
)

// ContentKind tells the delivery engine how to label and cache a file.
type ContentKind int

const (
	KindPlaylist ContentKind = iota + 1
	KindSegment
)

func (k ContentKind) String() string {
	switch k {
	case KindPlaylist:
		return "playlist"
	case KindSegment:
		return "segment"
	default:
		return "unknown"
	}
}

var (
	idDisallowed       = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	filenameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// File is an opened package file that passed validation. The caller must Close it.
type File struct {
	*os.File
	Path    string
	Size    int64
	ModTime time.Time
	Kind    ContentKind
}

// Resolver maps (assetId, quality, filename) request tuples to files under
// the package root. It never mutates the filesystem.
type Resolver struct {
	root string
}

// NewResolver canonicalizes root (creating it when missing) and returns a
// Resolver confined to it.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve package root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create package root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize package root: %w", err)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical package root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve validates the request components and opens the file they name:
//   - quality and filename empty: <root>/<assetId>/master.m3u8
//   - filename empty:             <root>/<assetId>/<quality>/index.m3u8
//   - otherwise:                  <root>/<assetId>/<quality>/<filename>, filename must end in .ts
//
// Characters outside the allow-lists are stripped. The joined path is
// canonicalized (symlinks included) and must stay under the root.
func (r *Resolver) Resolve(assetID, quality, filename string) (*File, error) {
	var segment string
	if filename != "" {
		segment = filenameDisallowed.ReplaceAllString(filename, "")
		if !strings.HasSuffix(segment, segmentSuffix) {
			return nil, ErrInvalidSegment
		}
	}

	id := idDisallowed.ReplaceAllString(assetID, "")
	q := idDisallowed.ReplaceAllString(quality, "")
	if id == "" || (quality != "" && q == "") {
		return nil, ErrNotFound
	}

	var parts []string
	kind := KindPlaylist
	switch {
	case segment != "":
		if q == "" {
			return nil, ErrNotFound
		}
		parts = []string{id, q, segment}
		kind = KindSegment
	case q != "":
		parts = []string{id, q, variantPlaylist}
	default:
		parts = []string{id, masterPlaylist}
	}

	candidate := filepath.Join(append([]string{r.root}, parts...)...)
	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &FilesystemError{Op: "canonicalize", Path: candidate, Err: err}
	}
	if !within(r.root, canonical) {
		return nil, ErrPathTraversal
	}

	f, err := os.Open(canonical)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &FilesystemError{Op: "open", Path: canonical, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &FilesystemError{Op: "stat", Path: canonical, Err: err}
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	return &File{
		File:    f,
		Path:    canonical,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    kind,
	}, nil
}

// within reports whether path is root or a descendant of it. Both must be clean.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
