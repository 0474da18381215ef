package chat

import "github.com/Tyrowin/roomchat/internal/store"

// EventType tags every outbound frame.
type EventType string

const (
	EventMessage     EventType = "message"
	EventChatUpdate  EventType = "chat_update"
	EventChatsUpdate EventType = "chats_update"
	EventError       EventType = "error"
)

// UpdateKind qualifies a chat_update event.
type UpdateKind string

const (
	UpdateNewChat     UpdateKind = "new_chat"
	UpdateParticipant UpdateKind = "participant_update"
	UpdateDeleted     UpdateKind = "deleted"
)

// Event is an outbound frame. Implementations marshal to a JSON object with
// a "type" field matching EventType.
type Event interface {
	EventType() EventType
}

// MessageEvent carries a newly persisted message to room members.
type MessageEvent struct {
	Type    EventType     `json:"type"`
	Message store.Message `json:"message"`
}

// NewMessageEvent wraps m as a "message" event.
func NewMessageEvent(m store.Message) MessageEvent {
	return MessageEvent{Type: EventMessage, Message: m}
}

// EventType implements Event.
func (e MessageEvent) EventType() EventType { return e.Type }

// ChatUpdateEvent announces a change of a chat to its live room.
type ChatUpdateEvent struct {
	Type       EventType  `json:"type"`
	UpdateType UpdateKind `json:"update_type"`
	Chat       any        `json:"chat"`
}

// NewChatUpdateEvent builds a "chat_update" event of the given kind.
func NewChatUpdateEvent(kind UpdateKind, chat any) ChatUpdateEvent {
	return ChatUpdateEvent{Type: EventChatUpdate, UpdateType: kind, Chat: chat}
}

// EventType implements Event.
func (e ChatUpdateEvent) EventType() EventType { return e.Type }

// ChatsUpdateEvent tells one user that their chat list changed.
type ChatsUpdateEvent struct {
	Type EventType `json:"type"`
	Chat any       `json:"chat"`
}

// NewChatsUpdateEvent builds a "chats_update" event for one user.
func NewChatsUpdateEvent(chat any) ChatsUpdateEvent {
	return ChatsUpdateEvent{Type: EventChatsUpdate, Chat: chat}
}

// EventType implements Event.
func (e ChatsUpdateEvent) EventType() EventType { return e.Type }

// ErrorEvent is sent to a single connection when one of its frames is refused.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// NewErrorEvent builds an "error" event carrying msg.
func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: msg}
}

// EventType implements Event.
func (e ErrorEvent) EventType() EventType { return e.Type }

// DeletedChat is the chat payload sent once a chat no longer exists.
type DeletedChat struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// Notifier is the fan-out surface the service calls after a change commits.
// Absent recipients are skipped silently.
type Notifier interface {
	BroadcastToRoom(roomID int64, ev Event) int
	NotifyRoomUpdate(roomID int64, kind UpdateKind, chat any) int
	NotifyUser(userID int64, chat any) bool
	Leave(userID, roomID int64)
	DropRoom(roomID int64)
}
