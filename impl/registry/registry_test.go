package registry_test

import (
	"context"
	"io"
	"linkgate/entity"
	"linkgate/impl/codec"
	"linkgate/impl/registry"
	"linkgate/internal/database/memory"
	"linkgate/lib/clock"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = int64(10)

func setup(t *testing.T) (*registry.Registry, *clock.Fake) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return registry.New(memory.New(), 720*time.Hour, clk, nil, log), clk
}

func TestValidateDestination(t *testing.T) {
	valid := []string{
		"https://t.me/joinchat/AAAAAEkF0x2abc",
		"https://t.me/+AbC_d-123",
		"https://telegram.me/golang_news",
		"https://t.me/i/xYz123",
		"https://t.me/c/1234567890",
		"https://t.me/c/1234567890/42",
		" https://t.me/+AbC ",
	}
	for _, d := range valid {
		assert.NoError(t, registry.ValidateDestination(d), d)
	}
	invalid := []string{
		"",
		"https://example.com/+AbC",
		"https://t.me/abc",
		"https://t.me/c/abc",
		"ftp://t.me/+AbC",
		"t.me/+AbC",
	}
	for _, d := range invalid {
		assert.ErrorIs(t, registry.ValidateDestination(d), entity.ErrInvalidDestination, d)
	}
}

func TestCreateLookup(t *testing.T) {
	links, clk := setup(t)
	ctx := context.Background()

	link, err := links.Create(ctx, "https://t.me/+Secret", entity.Principal{Id: owner, Username: "owner"})
	require.NoError(t, err)
	assert.True(t, codec.Validate(link.Id))
	assert.True(t, link.Active)
	assert.Equal(t, clk.Now(), link.CreatedAt)

	found, err := links.Lookup(ctx, link.Id)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+Secret", found.Destination)
	assert.Equal(t, "owner", found.OwnerUsername)
	assert.Empty(t, found.UniquePrincipals)

	_, err = links.Create(ctx, "https://example.com", entity.Principal{Id: owner})
	assert.ErrorIs(t, err, entity.ErrInvalidDestination)
}

func TestLookup_MintedIdIsNotImplicitlyValid(t *testing.T) {
	links, _ := setup(t)

	id, err := codec.Mint()
	require.NoError(t, err)
	require.True(t, codec.Validate(id))

	_, err = links.Lookup(context.Background(), id)
	assert.ErrorIs(t, err, entity.ErrLinkNotFound)

	_, err = links.Lookup(context.Background(), "../etc")
	assert.ErrorIs(t, err, entity.ErrLinkNotFound)
}

func TestRecordAccess_UniqueIdempotent(t *testing.T) {
	links, _ := setup(t)
	ctx := context.Background()

	link, err := links.Create(ctx, "https://t.me/+Secret", entity.Principal{Id: owner})
	require.NoError(t, err)

	require.NoError(t, links.RecordAccess(ctx, link.Id, 1))
	require.NoError(t, links.RecordAccess(ctx, link.Id, 1))
	require.NoError(t, links.RecordAccess(ctx, link.Id, 2))

	found, err := links.Lookup(ctx, link.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), found.AccessCount)
	assert.ElementsMatch(t, []int64{1, 2}, found.UniquePrincipals)
	assert.NotNil(t, found.LastAccessed)

	assert.ErrorIs(t, links.RecordAccess(ctx, "AAAAAAAAAAAAAAAAAAAAAA", 1), entity.ErrLinkNotFound)
}

func TestRevoke(t *testing.T) {
	links, clk := setup(t)
	ctx := context.Background()

	link, err := links.Create(ctx, "https://t.me/+Secret", entity.Principal{Id: owner})
	require.NoError(t, err)

	_, err = links.Revoke(ctx, link.Id, owner+1)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	revoked, err := links.Revoke(ctx, link.Id, owner)
	require.NoError(t, err)
	assert.False(t, revoked.Active)
	require.NotNil(t, revoked.RevokedAt)
	first := *revoked.RevokedAt

	clk.Advance(time.Hour)
	again, err := links.Revoke(ctx, link.Id, owner)
	require.NoError(t, err)
	assert.False(t, again.Active)
	assert.Equal(t, first, *again.RevokedAt)

	_, err = links.Resolve(ctx, link.Id)
	assert.ErrorIs(t, err, entity.ErrLinkRevoked)
	_, err = links.Lookup(ctx, link.Id)
	assert.NoError(t, err)
}

func TestTTL(t *testing.T) {
	links, clk := setup(t)
	ctx := context.Background()

	link, err := links.Create(ctx, "https://t.me/+Secret", entity.Principal{Id: owner})
	require.NoError(t, err)

	list, err := links.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	clk.Advance(720 * time.Hour)
	_, err = links.Lookup(ctx, link.Id)
	assert.ErrorIs(t, err, entity.ErrLinkNotFound)
	list, err = links.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := links.Sweep(ctx, clk.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
