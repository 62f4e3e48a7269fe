package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rendition is one target quality of the ladder.
type Rendition struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps"`
}

// Bandwidth is the peak bitrate advertised in the master playlist, in bits
// per second. It scales with the configured video bitrate.
func (r Rendition) Bandwidth() int {
	return r.VideoBitrateKbps * 1000
}

// Resolution formats the rendition size as WxH.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Ladder is the ordered set of renditions every source is transcoded into.
// Order is declaration order and drives master playlist order.
type Ladder []Rendition

// DefaultLadder is the process-wide ladder used when none is configured.
var DefaultLadder = Ladder{
	{Name: "360p", Width: 640, Height: 360, VideoBitrateKbps: 600},
	{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1000},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 5000},
}

var nameAllowed = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the ladder is usable as an on-disk layout: at least one
// rendition, unique path-safe names and positive dimensions and bitrates.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder: no renditions")
	}
	seen := make(map[string]struct{}, len(l))
	for i, r := range l {
		if !nameAllowed.MatchString(r.Name) {
			return fmt.Errorf("ladder: rendition %d: invalid name %q", i, r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("ladder: duplicate rendition %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("ladder: rendition %q: invalid size %dx%d", r.Name, r.Width, r.Height)
		}
		if r.VideoBitrateKbps <= 0 {
			return fmt.Errorf("ladder: rendition %q: invalid bitrate %d", r.Name, r.VideoBitrateKbps)
		}
	}
	return nil
}

// Names returns the rendition names in ladder order.
func (l Ladder) Names() []string {
	names := make([]string, len(l))
	for i, r := range l {
		names[i] = r.Name
	}
	return names
}

// ParseLadder parses "name:WxH:kbps" entries separated by commas, e.g.
// "360p:640x360:600,720p:1280x720:2500". An empty string yields DefaultLadder.
func ParseLadder(s string) (Ladder, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return append(Ladder(nil), DefaultLadder...), nil
	}
	var ladder Ladder
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("ladder: entry %q: want name:WxH:kbps", entry)
		}
		w, h, ok := strings.Cut(strings.ToLower(parts[1]), "x")
		if !ok {
			return nil, fmt.Errorf("ladder: entry %q: invalid size %q", entry, parts[1])
		}
		width, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("ladder: entry %q: width: %w", entry, err)
		}
		height, err := strconv.Atoi(h)
		if err != nil {
			return nil, fmt.Errorf("ladder: entry %q: height: %w", entry, err)
		}
		kbps, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(parts[2]), "k"))
		if err != nil {
			return nil, fmt.Errorf("ladder: entry %q: bitrate: %w", entry, err)
		}
		ladder = append(ladder, Rendition{Name: parts[0], Width: width, Height: height, VideoBitrateKbps: kbps})
	}
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	return ladder, nil
}
