package models

import "time"

// WebsiteStatus is the lifecycle state of a registered website.
type WebsiteStatus string

const (
	WebsiteStatusActive   WebsiteStatus = "ACTIVE"
	WebsiteStatusInactive WebsiteStatus = "INACTIVE"
	WebsiteStatusPending  WebsiteStatus = "PENDING"
)

// Website is a tenant record as returned by the tenant directory.
// It is treated as immutable once fetched.
type Website struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Domain         string        `json:"domain,omitempty" yaml:"domain"`
	Status         WebsiteStatus `json:"status" yaml:"status"`
	UserID         string        `json:"user_id,omitempty" yaml:"user_id"`
	OrganizationID string        `json:"organization_id,omitempty" yaml:"organization_id"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" yaml:"updated_at"`
}

// IsActive reports whether the website accepts events.
func (w *Website) IsActive() bool {
	return w != nil && w.Status == WebsiteStatusActive
}
