package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Load applies KEY=value pairs from the given dotenv files (".env" when none
// are given) to the process environment. Variables already set win over the
// file. Missing files are skipped; a malformed file is an error.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		present = append(present, p)
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// GetEnv returns the trimmed value of key, or fallback when it is blank.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt parses key as a base-10 integer. Unset or unparseable values
// yield fallback.
func GetEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBool returns the boolean value of key ("1", "true", "yes", ...),
// or fallback if unset or unparseable.
func GetEnvBool(key string, fallback bool) bool {
	s := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch s {
	case "":
		return fallback
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return fallback
}

// GetEnvDuration parses key with time.ParseDuration ("30m", "90s").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// GetEnvBytes parses a human readable size such as "2GB" or "500 MiB".
// Plain integers are taken as bytes.
func GetEnvBytes(key string, fallback int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := humanize.ParseBytes(s); err == nil && n > 0 {
			return int64(n)
		}
	}
	return fallback
}
