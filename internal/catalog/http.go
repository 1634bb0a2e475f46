package catalog

import (
	"context"
	"net/url"

	"staybook/internal/models"
	"staybook/internal/upstream"
)

// HTTPCatalog asks the catalog service for listings.
type HTTPCatalog struct {
	client *upstream.Client
}

func NewHTTPCatalog(client *upstream.Client) *HTTPCatalog {
	return &HTTPCatalog{client: client}
}

func (c *HTTPCatalog) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var l models.Listing
	if err := c.client.GetJSON(ctx, "/listings/"+url.PathEscape(listingID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}
