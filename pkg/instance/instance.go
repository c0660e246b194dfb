package instance

import (
	"os"

	"github.com/angelmondragon/custody-backend/pkg/env"
)

// GetID identifies this process in logs and lock ownership. It prefers
// CUSTODY_INSTANCE_ID, then the platform DYNO name, then the hostname.
func GetID() string {
	if id := env.First("", "CUSTODY_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
