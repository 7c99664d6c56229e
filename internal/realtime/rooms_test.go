package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomKeys(t *testing.T) {
	require.Equal(t, "user:u1", UserRoom("u1"))
	require.Equal(t, "chat:c1", ChatRoom(" c1 "))
	require.Equal(t, "post:p1", PostRoom("p1"))
	require.Equal(t, "", ChatRoom(""))
	require.Equal(t, "pool:charity", CharityPoolRoom)
}

func TestParseRoom(t *testing.T) {
	kind, id, ok := ParseRoom("chat:abc")
	require.True(t, ok)
	require.Equal(t, RoomKindChat, kind)
	require.Equal(t, "abc", id)

	_, _, ok = ParseRoom("nope:abc")
	require.False(t, ok)
	_, _, ok = ParseRoom("chat:")
	require.False(t, ok)
	_, _, ok = ParseRoom("chat")
	require.False(t, ok)
}

func TestIsPrivateRoom(t *testing.T) {
	require.True(t, IsPrivateRoom(UserRoom("u1")))
	require.True(t, IsPrivateRoom(CharityPoolRoom))
	require.False(t, IsPrivateRoom(ChatRoom("c1")))
	require.False(t, IsPrivateRoom(PostRoom("p1")))
	require.False(t, IsPrivateRoom("garbage"))
}
