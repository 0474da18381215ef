package server

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
)

var _ chat.Notifier = (*Hub)(nil)

// BroadcastToRoom delivers ev to every online member of roomID and returns
// how many received it. Offline members are skipped.
func (h *Hub) BroadcastToRoom(roomID int64, ev chat.Event) int {
	payload, err := encodeEvent(ev)
	if err != nil {
		h.log.Error("encode event", zap.String("type", string(ev.EventType())), zap.Error(err))
		return 0
	}

	members := h.MembersOf(roomID)
	delivered := 0
	for _, userID := range members {
		if h.deliver(userID, payload) {
			delivered++
		}
	}
	h.log.Debug("room broadcast",
		zap.Int64("chat_id", roomID), zap.String("type", string(ev.EventType())),
		zap.Int("members", len(members)), zap.Int("delivered", delivered))
	return delivered
}

// NotifyRoomUpdate sends a chat_update of the given kind to roomID.
func (h *Hub) NotifyRoomUpdate(roomID int64, kind chat.UpdateKind, c any) int {
	return h.BroadcastToRoom(roomID, chat.NewChatUpdateEvent(kind, c))
}

// NotifyUser sends a chats_update directly to userID regardless of the rooms
// it joined.
func (h *Hub) NotifyUser(userID int64, c any) bool {
	return h.SendTo(userID, chat.NewChatsUpdateEvent(c))
}
