package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFFmpegArgs(t *testing.T) {
	r := Rendition{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500}
	args := ffmpegArgs("/src/in.mp4", r, "/out/720p")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i /src/in.mp4",
		"-vf scale=1280:720",
		"-c:v libx264",
		"-b:v 2500k",
		"-maxrate 2500k",
		"-bufsize 5000k",
		"-c:a aac -b:a 128k",
		"-f hls",
		"-hls_time 6",
		"-hls_playlist_type vod",
		"-hls_segment_filename /out/720p/segment_%03d.ts",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if last := args[len(args)-1]; last != "/out/720p/index.m3u8" {
		t.Errorf("output playlist: got %s", last)
	}
}

func TestFFmpegEncoder_Encode(t *testing.T) {
	dir := t.TempDir()
	var gotName string
	enc := NewFFmpegEncoder("", testLogger())
	enc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		out := filepath.Dir(args[len(args)-1])
		if _, err := writeVariantFiles(out, 3); err != nil {
			return nil, err
		}
		return nil, nil
	})

	v, err := enc.Encode(context.Background(), "/src/in.mp4", DefaultLadder[0], dir)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if gotName != "ffmpeg" {
		t.Errorf("binary: got %q", gotName)
	}
	if v.RenditionName != "360p" {
		t.Errorf("rendition: got %q", v.RenditionName)
	}
	want := []string{"segment_000.ts", "segment_001.ts", "segment_002.ts"}
	if strings.Join(v.SegmentFilenames, ",") != strings.Join(want, ",") {
		t.Errorf("segments: got %v", v.SegmentFilenames)
	}
	if v.SegmentDurationSeconds != SegmentSeconds {
		t.Errorf("duration: got %v", v.SegmentDurationSeconds)
	}
}

func TestFFmpegEncoder_Encode_tool_failure(t *testing.T) {
	enc := NewFFmpegEncoder("/opt/ffmpeg", testLogger())
	exitErr := errors.New("exit status 1")
	enc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("  Invalid data found when processing input\n"), exitErr
	})

	_, err := enc.Encode(context.Background(), "/src/in.mp4", DefaultLadder[2], t.TempDir())
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected *EncodeError, got %T %v", err, err)
	}
	if encErr.Rendition != "720p" {
		t.Errorf("rendition: got %q", encErr.Rendition)
	}
	if encErr.Output != "Invalid data found when processing input" {
		t.Errorf("output: got %q", encErr.Output)
	}
	if !errors.Is(err, exitErr) {
		t.Error("EncodeError should unwrap to the tool error")
	}
}

func TestFFmpegEncoder_Encode_bad_playlist(t *testing.T) {
	cases := map[string]string{
		"missing":     "",
		"no_segments": "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXT-X-ENDLIST\n",
		"master":      "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=600000,RESOLUTION=640x360\n360p/index.m3u8\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			enc := NewFFmpegEncoder("", testLogger())
			enc.WithCommandRunner(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
				if content == "" {
					return nil, nil
				}
				return nil, os.WriteFile(filepath.Join(dir, VariantPlaylistName), []byte(content), 0o644)
			})
			_, err := enc.Encode(context.Background(), "/src/in.mp4", DefaultLadder[0], dir)
			var encErr *EncodeError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected *EncodeError, got %v", err)
			}
		})
	}
}
