package catalog

import (
	"context"
	"testing"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCatalog struct {
	*StaticCatalog
	calls int
}

func (c *countingCatalog) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	c.calls++
	return c.StaticCatalog.GetListing(ctx, id)
}

func TestCachedCatalog(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := &countingCatalog{StaticCatalog: NewStaticCatalog([]models.Listing{
		{ID: "loft", Title: "Loft", MaxGuests: 3, IsActive: true},
	})}
	logger := zerolog.Nop()
	c := NewCachedCatalog(backend, client, time.Minute, &logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l, err := c.GetListing(ctx, "loft")
		require.NoError(t, err)
		assert.Equal(t, "Loft", l.Title)
		assert.Equal(t, 3, l.MaxGuests)
	}
	assert.Equal(t, 1, backend.calls)
	assert.True(t, s.Exists("staybook:listing:loft"))

	t.Run("MissesAreNotCached", func(t *testing.T) {
		_, err := c.GetListing(ctx, "castle")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, s.Exists("staybook:listing:castle"))
	})

	t.Run("Expiry", func(t *testing.T) {
		backend.calls = 0
		s.FastForward(2 * time.Minute)
		_, err := c.GetListing(ctx, "loft")
		require.NoError(t, err)
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("RedisDown", func(t *testing.T) {
		s.Close()
		l, err := c.GetListing(ctx, "loft")
		require.NoError(t, err)
		assert.Equal(t, "Loft", l.Title)
	})
}
