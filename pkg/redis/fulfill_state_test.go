package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillState_PutAndGet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, PutFulfillState(ctx, rdb, 7, FulfillFulfilled, "Inventory", 0, time.Hour))

	state, found, err := GetFulfillState(ctx, rdb, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint(7), state.RequestID)
	assert.Equal(t, FulfillFulfilled, state.Status)
	assert.Equal(t, "Inventory", state.Source)
	assert.Equal(t, 0, state.Matches)

	ttl := mr.TTL(FulfillStateKey(7))
	assert.Equal(t, time.Hour, ttl)
}

func TestFulfillState_MatchedWithCount(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, PutFulfillState(ctx, rdb, 9, FulfillMatched, "", 3, time.Hour))

	state, found, err := GetFulfillState(ctx, rdb, 9)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, FulfillMatched, state.Status)
	assert.Equal(t, 3, state.Matches)
}

func TestFulfillState_MissingKey(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, found, err := GetFulfillState(context.Background(), rdb, 12345)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFulfillState_OverwriteRefreshesSnapshot(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, PutFulfillState(ctx, rdb, 7, FulfillPending, "", 0, time.Hour))
	require.NoError(t, PutFulfillState(ctx, rdb, 7, FulfillFulfilled, "Donation", 0, time.Hour))

	state, found, err := GetFulfillState(ctx, rdb, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, FulfillFulfilled, state.Status)
	assert.Equal(t, "Donation", state.Source)
}
