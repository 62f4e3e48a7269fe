package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv_fallback(t *testing.T) {
	t.Setenv("HLS_TEST_STRING", "")
	if got := GetEnv("HLS_TEST_STRING", "videos/hls"); got != "videos/hls" {
		t.Errorf("GetEnv empty: got %q", got)
	}
	t.Setenv("HLS_TEST_STRING", "/srv/hls")
	if got := GetEnv("HLS_TEST_STRING", "videos/hls"); got != "/srv/hls" {
		t.Errorf("GetEnv set: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("HLS_TEST_INT", "not-a-number")
	if got := GetEnvInt("HLS_TEST_INT", 4); got != 4 {
		t.Errorf("invalid int should fall back, got %d", got)
	}
	t.Setenv("HLS_TEST_INT", "2")
	if got := GetEnvInt("HLS_TEST_INT", 4); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"off", true, false},
		{"0", true, false},
		{"maybe", true, true},
	}
	for _, tc := range cases {
		t.Setenv("HLS_TEST_BOOL", tc.value)
		if got := GetEnvBool("HLS_TEST_BOOL", tc.fallback); got != tc.want {
			t.Errorf("GetEnvBool(%q, %v) = %v, want %v", tc.value, tc.fallback, got, tc.want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("HLS_TEST_DURATION", "90s")
	if got := GetEnvDuration("HLS_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
	t.Setenv("HLS_TEST_DURATION", "-5s")
	if got := GetEnvDuration("HLS_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("negative duration should fall back, got %s", got)
	}
}

func TestGetEnvBytes(t *testing.T) {
	t.Setenv("HLS_TEST_BYTES", "2GB")
	if got := GetEnvBytes("HLS_TEST_BYTES", 1); got != 2_000_000_000 {
		t.Errorf("expected 2GB in bytes, got %d", got)
	}
	t.Setenv("HLS_TEST_BYTES", "1 MiB")
	if got := GetEnvBytes("HLS_TEST_BYTES", 1); got != 1<<20 {
		t.Errorf("expected 1MiB in bytes, got %d", got)
	}
	t.Setenv("HLS_TEST_BYTES", "lots")
	if got := GetEnvBytes("HLS_TEST_BYTES", 7); got != 7 {
		t.Errorf("unparseable size should fall back, got %d", got)
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HLS_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HLS_TEST_DOTENV", "")
	os.Unsetenv("HLS_TEST_DOTENV")
	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("HLS_TEST_DOTENV", ""); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestLoad_missing_file_is_ignored(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing dotenv should be skipped, got %v", err)
	}
}

func TestLoad_environment_wins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HLS_TEST_PRECEDENCE=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HLS_TEST_PRECEDENCE", "env")
	if err := Load(path); err != nil {
		t.Fatal(err)
	}
	if got := GetEnv("HLS_TEST_PRECEDENCE", ""); got != "env" {
		t.Errorf("expected process env to win, got %q", got)
	}
}
