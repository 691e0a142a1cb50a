package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/repository"
	"classifieds-messaging/backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListForUser(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, "alice", "Alice", false)
	testutil.SeedUser(t, db, "bob", "Bob", false)
	testutil.SeedUser(t, db, "carol", "Carol", false)

	messages := repository.NewGormMessageRepository(db)
	dir := repository.NewGormUserDirectory(db, time.Minute, time.Minute)
	t.Cleanup(dir.Close)
	idx := NewIndex(messages, dir)
	ctx := context.Background()

	send := func(from, to, body string) models.Message {
		m := models.Message{SenderID: from, ReceiverID: to, Body: body}
		require.NoError(t, messages.Insert(ctx, &m))
		return m
	}

	empty, err := idx.ListForUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	send("bob", "alice", "hello")
	send("bob", "alice", "are you there?")
	send("carol", "alice", "is the bike sold?")
	mine := send("alice", "bob", "yes, here")

	list, err := idx.ListForUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// read-your-writes: alice's own message moved bob to the top
	assert.Equal(t, "bob", list[0].CounterpartyID)
	assert.Equal(t, "Bob", list[0].DisplayName)
	assert.Equal(t, "yes, here", list[0].Preview)
	assert.Equal(t, mine.ID, list[0].LastMessageID)
	assert.True(t, list[0].LastFromViewer)
	assert.Equal(t, int64(2), list[0].UnreadCount)

	assert.Equal(t, "carol", list[1].CounterpartyID)
	assert.Equal(t, int64(1), list[1].UnreadCount)

	_, err = messages.MarkRead(ctx, "alice", "bob", time.Now())
	require.NoError(t, err)

	list, err = idx.ListForUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Zero(t, list[0].UnreadCount)

	// bob sees alice's message as unread
	list, err = idx.ListForUser(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].UnreadCount)
}

func TestPreview_TruncatesOnCodePoints(t *testing.T) {
	body := strings.Repeat("ż", PreviewLength+5)
	p := Preview(models.Message{Body: body})
	assert.Equal(t, PreviewLength, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))

	assert.Equal(t, "short", Preview(models.Message{Body: "short"}))
}
