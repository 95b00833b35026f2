package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
	"github.com/databuddy-analytics/databuddy/common/database"
)

// PostgresDirectory reads websites from the application database.
type PostgresDirectory struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresDirectory connects a pool to connString and pings it.
func NewPostgresDirectory(ctx context.Context, connString string, queryTimeout time.Duration) (*PostgresDirectory, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// The directory only serves point lookups on cache misses.
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDirectory{pool: pool, queryTimeout: queryTimeout}, nil
}

func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

const findWebsiteQuery = `
	SELECT id, name, domain, status, user_id, organization_id, created_at, updated_at
	FROM websites
	WHERE id = $1 AND deleted_at IS NULL
`

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (*models.Website, error) {
	ctx, cancel := database.QueryContextWithTimeout(ctx, d.queryTimeout)
	defer cancel()

	var (
		w             models.Website
		domain        *string
		status        string
		userID, orgID *string
	)
	err := d.pool.QueryRow(ctx, findWebsiteQuery, id).Scan(
		&w.ID, &w.Name, &domain, &status, &userID, &orgID, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query website: %w", err)
	}

	w.Status = models.WebsiteStatus(status)
	if domain != nil {
		w.Domain = *domain
	}
	if userID != nil {
		w.UserID = *userID
	}
	if orgID != nil {
		w.OrganizationID = *orgID
	}
	return &w, nil
}
