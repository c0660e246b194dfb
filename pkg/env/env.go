// Package env reads process settings needed before config.Load runs.
package env

import (
	"os"
	"strings"
)

// First returns the first non-blank value among keys, or fallback.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}

// Get is First with a single key.
func Get(key, fallback string) string {
	return First(fallback, key)
}
