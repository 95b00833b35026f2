package database

import (
	"context"
	"time"
)

// Standard timeout durations for database operations
const (
	// DefaultQueryTimeout is the timeout for read queries
	DefaultQueryTimeout = 5 * time.Second

	// DefaultMigrationTimeout is the timeout for schema migrations
	DefaultMigrationTimeout = 2 * time.Minute
)

// QueryContext creates a context with DefaultQueryTimeout.
// Use this for tenant lookups and other reads on the request path.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// QueryContextWithTimeout is QueryContext with an explicit timeout. A
// non-positive timeout falls back to DefaultQueryTimeout.
func QueryContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// MigrationContext creates a context with DefaultMigrationTimeout.
func MigrationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultMigrationTimeout)
}
