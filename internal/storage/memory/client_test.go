package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions(t *testing.T) {
	c := New()
	ctx := context.Background()

	userID, err := c.ResolveSession(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, userID)

	require.NoError(t, c.SaveSession(ctx, "tok-1", "user-1"))
	userID, err = c.ResolveSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	require.NoError(t, c.DeleteSession(ctx, "tok-1"))
	userID, err = c.ResolveSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestUserNames(t *testing.T) {
	c := New()
	ctx := context.Background()

	name, err := c.UserName(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, c.SaveUserName(ctx, "user-1", "Anna"))
	name, err = c.UserName(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", name)
}

func TestPushSubscriptions(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.AddPushSubscription(ctx, "user-1", `{"endpoint":"a"}`))
	require.NoError(t, c.AddPushSubscription(ctx, "user-1", `{"endpoint":"b"}`))
	require.NoError(t, c.AddPushSubscription(ctx, "user-1", `{"endpoint":"a"}`))

	subs, err := c.PushSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	require.NoError(t, c.RemovePushSubscription(ctx, "user-1", `{"endpoint":"a"}`))
	subs, err = c.PushSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"endpoint":"b"}`}, subs)

	subs, err = c.PushSubscriptions(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
