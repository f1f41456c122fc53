package sandbox

import (
	"slices"
	"time"
)

// Policy defines resource limits for sandbox execution.
type Policy struct {
	MaxMemory      string        // Docker memory limit (e.g. "256m")
	MaxTimeout     time.Duration // Deadline used when a request sets none
	Network        bool          // Whether network access is allowed
	Images         []string      // Allowed Docker images
	MaxOutputBytes int           // Per-stream capture cap; zero = unlimited
	TempDir        string        // Parent of artifact directories; empty = os.TempDir()
}

// DefaultPolicy returns safe defaults for code execution.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory:      "256m",
		MaxTimeout:     5 * time.Second,
		Network:        false,
		MaxOutputBytes: 1 << 20,
		Images: []string{
			"python:3.12-alpine",
			"python:3.12-slim",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}

func (p Policy) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return p.MaxTimeout
}
