// Package storage defines the contract shared by docchat's external stores
// (catalog database, embedding cache, Milvus) and a manager that health-checks
// and closes them together.
package storage

import (
	"context"
	"time"
)

// Client is the base interface implemented by every storage client.
type Client interface {
	// Name returns the backend type, e.g. "redis" or "sqlite".
	Name() string

	// Ping performs a lightweight connectivity check.
	Ping(ctx context.Context) error

	// Close releases the client's resources.
	Close() error
}

// HealthStatus is the result of one health check.
type HealthStatus struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   error
}
