package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeVariantFiles lays down what ffmpeg leaves in a rendition directory.
func writeVariantFiles(dir string, segments int) ([]string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	names := make([]string, 0, segments)
	for i := 0; i < segments; i++ {
		name := fmt.Sprintf("segment_%03d.ts", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ts-data-"+name), 0o644); err != nil {
			return nil, err
		}
		b.WriteString("#EXTINF:6.000000,\n")
		b.WriteString(name + "\n")
		names = append(names, name)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	if err := os.WriteFile(filepath.Join(dir, VariantPlaylistName), []byte(b.String()), 0o644); err != nil {
		return nil, err
	}
	return names, nil
}

// fakeEncoder substitutes the external tool.
type fakeEncoder struct {
	mu          sync.Mutex
	fail        map[string]error
	delay       map[string]time.Duration
	block       map[string]bool // wait for ctx cancellation
	calls       []string
	inFlight    int
	maxInFlight int
	finished    int
}

func (f *fakeEncoder) Encode(ctx context.Context, sourcePath string, r Rendition, outputDir string) (VariantPlaylist, error) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Name)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay, block, failErr := f.delay[r.Name], f.block[r.Name], f.fail[r.Name]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.finished++
		f.mu.Unlock()
	}()

	if _, err := os.Stat(sourcePath); err != nil {
		return VariantPlaylist{}, fmt.Errorf("source missing: %w", err)
	}
	// Something is always written first so cleanup has work to do.
	if err := os.WriteFile(filepath.Join(outputDir, "segment_000.ts"), []byte("partial"), 0o644); err != nil {
		return VariantPlaylist{}, err
	}
	if block {
		<-ctx.Done()
		return VariantPlaylist{}, &EncodeError{Rendition: r.Name, Err: ctx.Err()}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return VariantPlaylist{}, &EncodeError{Rendition: r.Name, Err: ctx.Err()}
		}
	}
	if failErr != nil {
		return VariantPlaylist{}, &EncodeError{Rendition: r.Name, Err: failErr, Output: "conversion failed"}
	}

	names, err := writeVariantFiles(outputDir, 2)
	if err != nil {
		return VariantPlaylist{}, err
	}
	return VariantPlaylist{RenditionName: r.Name, SegmentFilenames: names, SegmentDurationSeconds: SegmentSeconds}, nil
}

func (f *fakeEncoder) stats() (calls []string, maxInFlight, inFlight, finished int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.maxInFlight, f.inFlight, f.finished
}

func newTestService(t *testing.T, enc Encoder, cfg Config) (*Service, *JobRepository) {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = filepath.Join(t.TempDir(), "hls")
	}
	repo := NewInMemoryRepository()
	svc, err := NewService(cfg, enc, repo, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, repo
}

func stageSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(path, []byte("fake mp4 payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
