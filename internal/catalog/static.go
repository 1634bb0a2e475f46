package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"staybook/internal/domain"
	"staybook/internal/models"

	"gopkg.in/yaml.v2"
)

// StaticCatalog serves listings from a YAML seed file.
type StaticCatalog struct {
	mu       sync.RWMutex
	listings map[string]models.Listing
	ordered  []models.Listing
}

func NewStaticCatalog(listings []models.Listing) *StaticCatalog {
	c := &StaticCatalog{}
	c.SetListings(listings)
	return c
}

// LoadFile reads `listings:` from a YAML file.
func LoadFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listings: %w", err)
	}

	var file struct {
		Listings []models.Listing `yaml:"listings"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse listings: %w", err)
	}

	seen := make(map[string]bool, len(file.Listings))
	for _, l := range file.Listings {
		if l.ID == "" {
			return nil, fmt.Errorf("listing %q has no id", l.Title)
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("duplicate listing id %s", l.ID)
		}
		seen[l.ID] = true
	}
	return NewStaticCatalog(file.Listings), nil
}

// SetListings заменяет набор листингов целиком
func (c *StaticCatalog) SetListings(listings []models.Listing) {
	byID := make(map[string]models.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings = byID
	c.ordered = append([]models.Listing(nil), listings...)
}

func (c *StaticCatalog) GetListing(_ context.Context, listingID string) (*models.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
	}
	return &l, nil
}

func (c *StaticCatalog) Listings() []models.Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Listing(nil), c.ordered...)
}
