package migration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/migration"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/storage/memory"
)

func TestUpSeedsOnce(t *testing.T) {
	ctx := context.Background()
	db := memory.New(memory.Config{L: logger.Nop()})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := migration.Up(ctx, logger.Nop(), db, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = migration.Up(ctx, logger.Nop(), db, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := db.ListRooms(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	family, err := db.GetRoom(ctx, "family-apartment")
	require.NoError(t, err)
	assert.Equal(t, 6, family.Capacity)
	assert.True(t, family.IsActive)

	night := family.Pricing.Resolve(time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, pricing.TierSeasonal, night.Tier)
	assert.Equal(t, pricing.FromFloat(450), night.Price)
}

func TestSampleRoomsPricingIsValid(t *testing.T) {
	for _, room := range migration.SampleRooms(time.Now()) {
		assert.NoError(t, pricing.ValidatePricing(room.Pricing), room.Name)
	}
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := memory.New(memory.Config{L: logger.Nop()})
	ids := identity.New(logger.Nop(), db, identity.Config{Secret: []byte("0123456789abcdef"), BcryptCost: bcrypt.MinCost})

	require.NoError(t, migration.SeedAdmin(ctx, logger.Nop(), ids, "admin@bnb.test", "secret1"))
	require.NoError(t, migration.SeedAdmin(ctx, logger.Nop(), ids, "admin@bnb.test", "other1"))

	_, user, err := ids.SignIn(ctx, "admin@bnb.test", "secret1")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, user.Role)
}
