package tenant

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// MemoryDirectory serves websites from a static map. It backs local
// development (seeded from YAML) and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	websites map[string]*models.Website
}

// NewMemoryDirectory creates a directory holding websites.
func NewMemoryDirectory(websites ...*models.Website) *MemoryDirectory {
	d := &MemoryDirectory{websites: make(map[string]*models.Website, len(websites))}
	for _, w := range websites {
		d.websites[w.ID] = w
	}
	return d
}

type seedFile struct {
	Websites []*models.Website `yaml:"websites"`
}

// LoadMemoryDirectory reads a YAML seed file of the form
//
//	websites:
//	  - id: site_123
//	    name: Example
//	    domain: example.com
//	    status: ACTIVE
func LoadMemoryDirectory(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, w := range f.Websites {
		if w == nil || w.ID == "" {
			return nil, fmt.Errorf("seed file: website %d has no id", i)
		}
	}
	return NewMemoryDirectory(f.Websites...), nil
}

func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (*models.Website, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w, ok := d.websites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// Put adds or replaces a website.
func (d *MemoryDirectory) Put(w *models.Website) {
	d.mu.Lock()
	d.websites[w.ID] = w
	d.mu.Unlock()
}

// Remove deletes a website.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	delete(d.websites, id)
	d.mu.Unlock()
}
