package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

const (
	// SegmentSeconds is the fixed HLS segment duration.
	SegmentSeconds = 6

	// VariantPlaylistName is the per-rendition playlist written by the encoder.
	VariantPlaylistName = "index.m3u8"

	// SegmentPattern is the on-disk VOD segment naming scheme.
	SegmentPattern = "segment_%03d.ts"

	audioCodec   = "aac"
	audioBitrate = "128k"
)

// Encoder turns a source file into one segmented HLS variant stream inside
// outputDir. It is the seam around the external transcoding tool.
type Encoder interface {
	Encode(ctx context.Context, sourcePath string, r Rendition, outputDir string) (VariantPlaylist, error)
}

// commandRunner executes an external command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpegEncoder drives ffmpeg once per rendition.
type FFmpegEncoder struct {
	binary string
	log    *slog.Logger
	run    commandRunner
}

// NewFFmpegEncoder returns an encoder that invokes binary ("ffmpeg" when empty).
func NewFFmpegEncoder(binary string, log *slog.Logger) *FFmpegEncoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegEncoder{binary: binary, log: log, run: defaultCommandRunner}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (e *FFmpegEncoder) WithCommandRunner(r commandRunner) {
	if e != nil && r != nil {
		e.run = r
	}
}

// Encode implements Encoder. A non-zero exit, a missing playlist or a playlist
// without segments are all reported as *EncodeError.
func (e *FFmpegEncoder) Encode(ctx context.Context, sourcePath string, r Rendition, outputDir string) (VariantPlaylist, error) {
	args := ffmpegArgs(sourcePath, r, outputDir)
	e.log.Debug("executing ffmpeg",
		slog.String("rendition", r.Name),
		slog.String("source", sourcePath),
		slog.String("output_dir", outputDir))

	output, err := e.run(ctx, e.binary, args...)
	if err != nil {
		diag := strings.TrimSpace(string(output))
		e.log.Error("ffmpeg failed",
			slog.String("rendition", r.Name),
			slog.String("error", err.Error()),
			slog.String("stderr", diag))
		return VariantPlaylist{}, &EncodeError{Rendition: r.Name, Err: err, Output: diag}
	}

	variant, err := readVariantPlaylist(filepath.Join(outputDir, VariantPlaylistName))
	if err != nil {
		return VariantPlaylist{}, &EncodeError{Rendition: r.Name, Err: err}
	}
	variant.RenditionName = r.Name
	return variant, nil
}

func ffmpegArgs(sourcePath string, r Rendition, outputDir string) []string {
	kbps := strconv.Itoa(r.VideoBitrateKbps) + "k"
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=%d:%d", r.Width, r.Height),
		"-c:v", "libx264",
		"-b:v", kbps,
		"-maxrate", kbps,
		"-bufsize", strconv.Itoa(2*r.VideoBitrateKbps) + "k",
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-f", "hls",
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, SegmentPattern),
		filepath.Join(outputDir, VariantPlaylistName),
	}
}

// readVariantPlaylist parses the encoder's media playlist and requires at
// least one segment.
func readVariantPlaylist(path string) (VariantPlaylist, error) {
	f, err := os.Open(path)
	if err != nil {
		return VariantPlaylist{}, fmt.Errorf("open variant playlist: %w", err)
	}
	defer f.Close()

	pl, listType, err := m3u8.DecodeFrom(f, false)
	if err != nil {
		return VariantPlaylist{}, fmt.Errorf("parse variant playlist: %w", err)
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return VariantPlaylist{}, errors.New("variant playlist is not a media playlist")
	}

	var variant VariantPlaylist
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		variant.SegmentFilenames = append(variant.SegmentFilenames, filepath.Base(seg.URI))
	}
	if len(variant.SegmentFilenames) == 0 {
		return VariantPlaylist{}, errors.New("variant playlist has no segments")
	}
	variant.SegmentDurationSeconds = media.TargetDuration
	if variant.SegmentDurationSeconds <= 0 {
		variant.SegmentDurationSeconds = SegmentSeconds
	}
	return variant, nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
