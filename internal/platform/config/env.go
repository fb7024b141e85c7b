package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source reads API_* settings with explicit map > OS env > .env precedence. Values that are set
// but cannot be parsed are remembered in malformed and reported by Load as a ValidationError,
// so a typo in API_ORDERS_SHIPPING_COST never silently becomes free shipping.
type source struct {
	lookup    func(key string) (string, bool)
	malformed []string
}

func newSource(options loaderOptions, dotenv map[string]string) *source {
	return &source{lookup: func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotenv[key]
		return value, ok
	}}
}

// raw returns the trimmed value, or "" when unset or blank.
func (s *source) raw(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

func (s *source) bad(key string) {
	s.malformed = append(s.malformed, key)
}

func (s *source) str(key, fallback string) string {
	if value := s.raw(key); value != "" {
		return value
	}
	return fallback
}

func (s *source) lower(key, fallback string) string { return strings.ToLower(s.str(key, fallback)) }

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.bad(key)
		return fallback
	}
	return d
}

func (s *source) int(key string, fallback int) int {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		s.bad(key)
		return fallback
	}
	return n
}

func (s *source) int64(key string, fallback int64) int64 {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.bad(key)
		return fallback
	}
	return n
}

func (s *source) bool(key string, fallback bool) bool {
	switch strings.ToLower(s.raw(key)) {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		s.bad(key)
		return fallback
	}
}

// list splits a comma separated value, dropping blanks. Unset yields an empty slice.
func (s *source) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.raw(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "env=value,env=value"; names are lower-cased and incomplete entries skipped.
func (s *source) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// EnvironmentValues returns the merged environment (.env < OS env < explicit map) so callers can
// configure the secret resolver before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// loadDotEnv reads path with godotenv. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
