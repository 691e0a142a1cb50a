package repository

import (
	"context"
	"testing"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockList(t *testing.T) {
	blocks := NewGormBlockList(testutil.NewDB(t))
	ctx := context.Background()

	blocked, err := blocks.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, blocks.Block(ctx, "alice", "bob"))
	require.NoError(t, blocks.Block(ctx, "alice", "bob"))

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		blocked, err = blocks.IsBlocked(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, blocked, "%v", pair)
	}

	require.NoError(t, blocks.Unblock(ctx, "alice", "bob"))
	blocked, err = blocks.IsBlocked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestUserDirectory(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, "alice", "Alice", false)
	testutil.SeedUser(t, db, "bob", "Bob", true)

	dir := NewGormUserDirectory(db, time.Minute, 5*time.Minute)
	t.Cleanup(dir.Close)
	ctx := context.Background()

	premium, err := dir.IsPremium(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, premium)

	// entitlement changes are visible on the next call
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "bob").Update("is_premium", false).Error)
	premium, err = dir.IsPremium(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, premium)

	_, err = dir.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return now }
	require.NoError(t, dir.Touch(ctx, "alice", now.Add(-time.Minute)))

	dir.SetPresence(func(id string) bool { return id == "bob" })

	profiles, err := dir.Profiles(ctx, []string{"alice", "bob", "ghost"})
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Alice", profiles["alice"].DisplayName)
	assert.True(t, profiles["alice"].Online)
	assert.True(t, profiles["bob"].Online)
	assert.Equal(t, "ghost", profiles["ghost"].UserID)
	assert.False(t, profiles["ghost"].Online)

	now = now.Add(time.Hour)
	profiles, err = dir.Profiles(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.False(t, profiles["alice"].Online)
}
