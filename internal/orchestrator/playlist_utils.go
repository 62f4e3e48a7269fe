package orchestrator

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MasterPlaylistName is the top-level playlist of a package.
const MasterPlaylistName = "master.m3u8"

// RenderMaster renders the HLS master playlist for ladder. variants is the
// confirmed set of successful encodes; every ladder rendition must be present,
// otherwise no playlist is rendered. Entries follow ladder order regardless of
// the order variants completed in.
func RenderMaster(ladder Ladder, variants []VariantPlaylist) (string, error) {
	if len(ladder) == 0 {
		return "", fmt.Errorf("render master: empty ladder")
	}
	done := make(map[string]bool, len(variants))
	for _, v := range variants {
		done[v.RenditionName] = len(v.SegmentFilenames) > 0
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, r := range ladder {
		if !done[r.Name] {
			return "", fmt.Errorf("render master: rendition %s has no successful variant", r.Name)
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", r.Bandwidth(), r.Resolution())
		b.WriteString(path.Join(r.Name, VariantPlaylistName))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// WriteMaster atomically writes content to dir/master.m3u8: the bytes go to a
// temp file in the same directory which is then renamed into place, so
// readers see either no playlist or the complete one.
func WriteMaster(dir, content string) (string, error) {
	target := filepath.Join(dir, MasterPlaylistName)
	if err := writeFileAtomic(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return target, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
