package orchestrator

import (
	"strings"
	"testing"
)

func TestDefaultLadder_valid(t *testing.T) {
	if err := DefaultLadder.Validate(); err != nil {
		t.Fatalf("default ladder invalid: %v", err)
	}
	want := []string{"360p", "480p", "720p", "1080p"}
	if got := strings.Join(DefaultLadder.Names(), ","); got != strings.Join(want, ",") {
		t.Errorf("names: got %s", got)
	}
}

func TestRendition_Bandwidth_scales_with_bitrate(t *testing.T) {
	for _, r := range DefaultLadder {
		if r.Bandwidth() != r.VideoBitrateKbps*1000 {
			t.Errorf("%s: bandwidth %d not proportional to %dkbps", r.Name, r.Bandwidth(), r.VideoBitrateKbps)
		}
	}
	if DefaultLadder[0].Bandwidth() == DefaultLadder[3].Bandwidth() {
		t.Error("bandwidth must differ across renditions")
	}
}

func TestLadder_Validate(t *testing.T) {
	cases := map[string]Ladder{
		"empty":         {},
		"bad_name":      {{Name: "../720p", Width: 1, Height: 1, VideoBitrateKbps: 1}},
		"duplicate":     {{Name: "a", Width: 1, Height: 1, VideoBitrateKbps: 1}, {Name: "a", Width: 2, Height: 2, VideoBitrateKbps: 2}},
		"zero_size":     {{Name: "a", Width: 0, Height: 1, VideoBitrateKbps: 1}},
		"zero_bitrate":  {{Name: "a", Width: 1, Height: 1, VideoBitrateKbps: 0}},
		"dotted_name":   {{Name: "a.b", Width: 1, Height: 1, VideoBitrateKbps: 1}},
		"negative_size": {{Name: "a", Width: 1, Height: -1, VideoBitrateKbps: 1}},
	}
	for name, ladder := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ladder.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseLadder(t *testing.T) {
	t.Run("empty_uses_default", func(t *testing.T) {
		l, err := ParseLadder("  ")
		if err != nil {
			t.Fatal(err)
		}
		if len(l) != len(DefaultLadder) {
			t.Fatalf("expected default ladder, got %v", l)
		}
		l[0].Name = "mutated"
		if DefaultLadder[0].Name != "360p" {
			t.Error("ParseLadder must return a copy of the default ladder")
		}
	})

	t.Run("custom", func(t *testing.T) {
		l, err := ParseLadder("240p:426x240:300k, 720p:1280X720:2500")
		if err != nil {
			t.Fatal(err)
		}
		want := Ladder{
			{Name: "240p", Width: 426, Height: 240, VideoBitrateKbps: 300},
			{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500},
		}
		if len(l) != len(want) {
			t.Fatalf("got %v", l)
		}
		for i := range want {
			if l[i] != want[i] {
				t.Errorf("entry %d: got %+v want %+v", i, l[i], want[i])
			}
		}
	})

	for _, bad := range []string{"720p", "720p:1280:2500", "720p:axb:1", "720p:1280x720:fast", "x y:1x1:1"} {
		t.Run("invalid_"+bad, func(t *testing.T) {
			if _, err := ParseLadder(bad); err == nil {
				t.Errorf("ParseLadder(%q) should fail", bad)
			}
		})
	}
}
