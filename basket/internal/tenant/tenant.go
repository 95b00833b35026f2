// Package tenant resolves website client IDs to tenant records with a
// stale-while-revalidate cache in front of the tenant directory.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

var (
	// ErrNotFound means the directory has no website with the given ID.
	ErrNotFound = errors.New("website not found")

	// ErrLookupFailed means the directory could not be queried.
	ErrLookupFailed = errors.New("website lookup failed")
)

// Directory is the read-only source of truth for website records.
// FindByID returns ErrNotFound for unknown IDs.
type Directory interface {
	FindByID(ctx context.Context, id string) (*models.Website, error)
}

// Entry is a cached website together with the time it was fetched.
type Entry struct {
	Website   *models.Website `json:"website"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Cache stores entries for at most the ttl passed to Set.
type Cache interface {
	Get(ctx context.Context, id string) (Entry, bool, error)
	Set(ctx context.Context, id string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
