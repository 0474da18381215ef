package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

func TestDisconnectRemovesUserEverywhere(t *testing.T) {
	h := newTestHub(t, nil)
	c := connectUser(h, 1)
	h.Join(1, 7)
	h.Join(1, 8)
	h.Join(2, 7)

	require.True(t, h.IsOnline(1))
	h.Disconnect(1)

	assert.False(t, h.IsOnline(1))
	assert.Equal(t, []int64{2}, h.MembersOf(7))
	assert.Empty(t, h.MembersOf(8))
	requireClosed(t, c)

	assert.NotPanics(t, func() { h.Disconnect(1) })
	assert.NotPanics(t, func() { h.Disconnect(404) })
}

func TestJoinLeaveMembersOf(t *testing.T) {
	h := newTestHub(t, nil)
	h.Join(3, 7)
	h.Join(1, 7)
	h.Join(2, 7)
	h.Join(1, 7)

	assert.Equal(t, []int64{1, 2, 3}, h.MembersOf(7))

	h.Leave(2, 7)
	assert.Equal(t, []int64{1, 3}, h.MembersOf(7))
	h.Leave(2, 7)
	h.Leave(2, 99)

	h.Leave(1, 7)
	h.Leave(3, 7)
	assert.Empty(t, h.MembersOf(7))
	_, rooms := h.Stats()
	assert.Zero(t, rooms, "empty rooms are evicted")
}

func TestStatsCountsConnectedUsersOnly(t *testing.T) {
	h := newTestHub(t, nil)
	connectUser(h, 1)
	connectUser(h, 2)
	h.Join(3, 7)
	h.Join(1, 8)

	users, rooms := h.Stats()
	assert.Equal(t, 2, users)
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 2, h.OnlineCount())
}

func TestSendToOffline(t *testing.T) {
	h := newTestHub(t, nil)
	assert.False(t, h.SendTo(1, chat.NewErrorEvent("nobody home")))

	h.Join(1, 7)
	assert.False(t, h.SendTo(1, chat.NewErrorEvent("joined but offline")))
}

func TestBroadcastReachesOnlineMembersOnly(t *testing.T) {
	h := newTestHub(t, nil)
	a := connectUser(h, 1)
	b := connectUser(h, 2)
	c := connectUser(h, 3)
	h.Join(1, 7)
	h.Join(2, 7)
	h.Join(4, 7) // joined, never connected

	msg := store.Message{ID: 10, ChatID: 7, SenderID: 1, Content: "hi"}
	n := h.BroadcastToRoom(7, chat.NewMessageEvent(msg))
	assert.Equal(t, 2, n)

	for _, cl := range []*Client{a, b} {
		ev := nextEvent(t, cl)
		assert.Equal(t, "message", ev["type"])
		assert.Equal(t, "hi", ev["message"].(map[string]any)["content"])
	}
	requireNoEvent(t, c)

	assert.Zero(t, h.BroadcastToRoom(99, chat.NewErrorEvent("empty room")))
}

func TestNotifyEventShapes(t *testing.T) {
	h := newTestHub(t, nil)
	a := connectUser(h, 1)
	h.Join(1, 7)

	h.NotifyRoomUpdate(7, chat.UpdateDeleted, chat.DeletedChat{ID: 7, Deleted: true})
	ev := nextEvent(t, a)
	assert.Equal(t, "chat_update", ev["type"])
	assert.Equal(t, "deleted", ev["update_type"])
	assert.Equal(t, true, ev["chat"].(map[string]any)["deleted"])

	assert.True(t, h.NotifyUser(1, store.Chat{ID: 9, Name: "other"}))
	ev = nextEvent(t, a)
	assert.Equal(t, "chats_update", ev["type"])
	assert.Equal(t, "other", ev["chat"].(map[string]any)["name"])

	assert.False(t, h.NotifyUser(2, store.Chat{ID: 9}))
}

func TestConnectReplacesPriorConnection(t *testing.T) {
	obs := &recordingObserver{}
	h := newTestHub(t, nil, obs)
	old := connectUser(h, 1)
	h.Join(1, 7)

	fresh := queueClient(h, 1)
	assert.Same(t, old, h.Connect(fresh))
	requireClosed(t, old)

	// The superseded connection winding down must not unregister its replacement.
	h.release(old)
	assert.True(t, h.IsOnline(1))
	assert.Equal(t, []int64{1}, h.MembersOf(7))

	assert.True(t, h.SendTo(1, chat.NewErrorEvent("to the new one")))
	assert.Equal(t, "error", nextEvent(t, fresh)["type"])

	h.release(fresh)
	assert.False(t, h.IsOnline(1))
	assert.Empty(t, h.MembersOf(7))

	online, offline := obs.counts()
	assert.Equal(t, 2, online)
	assert.Equal(t, 1, offline)
	assert.Less(t, obs.online[0], obs.online[1])
	assert.Equal(t, obs.online[1], obs.offline[0])
}

// TestReleaseRacingReconnectKeepsPresenceInOrder races the teardown of one
// connection against the user's next connection. Whatever order the hub
// settles on, an observer honouring gen must end up agreeing with it.
func TestReleaseRacingReconnectKeepsPresenceInOrder(t *testing.T) {
	for i := 0; i < 500; i++ {
		obs := newStateObserver(50 * time.Microsecond)
		h := newTestHub(t, nil, obs)
		first := connectUser(h, 1)
		second := queueClient(h, 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.release(first)
		}()
		go func() {
			defer wg.Done()
			h.Connect(second)
		}()
		wg.Wait()

		require.True(t, h.IsOnline(1))
		require.True(t, obs.isOnline(1), "iteration %d", i)
	}
}

func TestStaleJoinFromReleasedConnection(t *testing.T) {
	h := newTestHub(t, nil)
	c := connectUser(h, 1)
	h.release(c)

	assert.False(t, h.joinFrom(c, 7))
	assert.Empty(t, h.MembersOf(7))
	users, rooms := h.Stats()
	assert.Zero(t, users)
	assert.Zero(t, rooms)

	// The next connection starts with no rooms.
	next := connectUser(h, 1)
	assert.Zero(t, h.BroadcastToRoom(7, chat.NewErrorEvent("x")))
	requireNoEvent(t, next)

	assert.True(t, h.joinFrom(next, 7))
	assert.False(t, h.joinFrom(c, 8))
	assert.Equal(t, []int64{1}, h.MembersOf(7))
	assert.Empty(t, h.MembersOf(8))
}

func TestFullQueueDisconnectsOnlyThatRecipient(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 2
	h := newTestHub(t, cfg)
	slow := connectUser(h, 1)
	fast := connectUser(h, 2)
	h.Join(1, 7)
	h.Join(2, 7)

	for i := 0; i < 2; i++ {
		assert.Equal(t, 2, h.BroadcastToRoom(7, chat.NewErrorEvent("tick")))
		nextEvent(t, fast)
	}

	assert.Equal(t, 1, h.BroadcastToRoom(7, chat.NewErrorEvent("overflow")))
	assert.False(t, h.IsOnline(1))
	assert.Equal(t, []int64{2}, h.MembersOf(7))
	assert.Equal(t, "overflow", nextEvent(t, fast)["message"])

	// The two queued events are still drained before the queue reports closed.
	nextEvent(t, slow)
	nextEvent(t, slow)
	requireClosed(t, slow)
}

func TestEventsKeepSendOrderPerRecipient(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 64
	h := newTestHub(t, cfg)
	a := connectUser(h, 1)
	b := connectUser(h, 2)
	h.Join(1, 7)
	h.Join(2, 7)

	for i := int64(1); i <= 20; i++ {
		h.BroadcastToRoom(7, chat.NewMessageEvent(store.Message{ID: i, ChatID: 7}))
	}
	for _, cl := range []*Client{a, b} {
		for i := 1; i <= 20; i++ {
			ev := nextEvent(t, cl)
			assert.EqualValues(t, i, ev["message"].(map[string]any)["id"])
		}
	}
}

func TestDropRoom(t *testing.T) {
	h := newTestHub(t, nil)
	connectUser(h, 1)
	h.Join(1, 7)
	h.Join(2, 7)
	h.Join(1, 8)

	h.DropRoom(7)
	assert.Empty(t, h.MembersOf(7))
	assert.Equal(t, []int64{1}, h.MembersOf(8))
	assert.True(t, h.IsOnline(1))

	users, rooms := h.Stats()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, rooms)
}

// TestConcurrentJoinLeaveDisconnect hammers one room from many goroutines and
// checks that nothing dangles once every user is disconnected.
func TestConcurrentJoinLeaveDisconnect(t *testing.T) {
	h := newTestHub(t, nil)
	const users = 50

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			connectUser(h, u)
			for i := 0; i < 50; i++ {
				room := int64(i % 5)
				h.Join(u, room)
				if i%3 == 0 {
					h.Leave(u, room)
				}
				h.BroadcastToRoom(room, chat.NewErrorEvent("x"))
			}
			h.Disconnect(u)
			h.Join(u, 100+u)
			h.Disconnect(u)
		}(u)
	}
	wg.Wait()

	for room := int64(0); room < 5; room++ {
		assert.Empty(t, h.MembersOf(room))
	}
	online, rooms := h.Stats()
	assert.Zero(t, online)
	assert.Zero(t, rooms)
}

func TestServeAfterShutdown(t *testing.T) {
	h := newTestHub(t, nil)
	require.NoError(t, h.Shutdown(time.Second))
	assert.True(t, h.closing)
	assert.ErrorIs(t, h.Serve(queueClient(h, 1)), ErrHubClosed)
	assert.Zero(t, h.OnlineCount())
}
