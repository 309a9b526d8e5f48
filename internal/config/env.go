package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment is a read-only snapshot of process environment variables.
// Components receive it at construction instead of reading the process
// environment themselves, which keeps late rebinding out and tests simple.
type Environment map[string]string

// EnvFromOS captures the current process environment.
func EnvFromOS() Environment {
	env := make(Environment)
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}
	return env
}

// Get returns the trimmed value for key, or "" when unset or blank.
func (e Environment) Get(key string) string {
	return strings.TrimSpace(e[key])
}

// GetDefault returns the trimmed value for key, or fallback when unset or blank.
func (e Environment) GetDefault(key, fallback string) string {
	if v := e.Get(key); v != "" {
		return v
	}
	return fallback
}

// Truthy reports whether key holds one of 1/true/yes/on (case-insensitive).
func (e Environment) Truthy(key string) bool {
	switch strings.ToLower(e.Get(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Float parses key as float64, returning fallback when unset and an error on
// malformed input.
func (e Environment) Float(key string, fallback float64) (float64, error) {
	raw := e.Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, raw)
	}
	return value, nil
}

// LoadDotEnv loads .env then .env.local into the process environment without
// overriding variables that are already set. Missing files are not an error.
func LoadDotEnv() {
	for _, path := range []string{".env", ".env.local"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", path)
	}
}
