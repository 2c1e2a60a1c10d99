package membership

import (
	"context"
	"linkgate/lib/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvites_CachedWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := newFakeDirectory()
	inv := NewInvites(dir, nil, 24*time.Hour, clk, discard())
	ctx := context.Background()

	first, err := inv.Get(ctx, -100)
	require.NoError(t, err)

	clk.Advance(23 * time.Hour)
	again, err := inv.Get(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, dir.invites)

	clk.Advance(time.Hour)
	fresh, err := inv.Get(ctx, -100)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	assert.Equal(t, 2, dir.invites)
}

func TestInvites_RefreshReplaces(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := newFakeDirectory()
	inv := NewInvites(dir, nil, time.Hour, clk, discard())
	ctx := context.Background()

	first, err := inv.Get(ctx, -100)
	require.NoError(t, err)
	refreshed, err := inv.Refresh(ctx, -100)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)

	cached, err := inv.Get(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, refreshed, cached)
}

func TestInvites_ForGroups(t *testing.T) {
	inv := NewInvites(newFakeDirectory(), nil, time.Hour, nil, discard())
	invites := inv.ForGroups(context.Background(), []int64{-1, -2})
	require.Len(t, invites, 2)
	assert.Equal(t, int64(-2), invites[1].GroupID)
	assert.NotEmpty(t, invites[1].URL)
}

func TestInvites_NoDirectory(t *testing.T) {
	inv := NewInvites(nil, nil, time.Hour, nil, discard())
	_, err := inv.Get(context.Background(), -1)
	assert.Error(t, err)
	assert.Empty(t, inv.ForGroups(context.Background(), []int64{-1}))
}
