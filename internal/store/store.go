// Package store defines the persisted chat records and the Store contract the
// server uses for users, chats, participants and messages.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a user, chat or participant row is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a row would violate a uniqueness rule.
	ErrConflict = errors.New("store: conflict")
)

// User is a registered account. PasswordHash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	LastSeen     time.Time `json:"last_seen"`
}

// Participant is a user's membership row in a chat.
type Participant struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Chat is a conversation with its current participants.
type Chat struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
}

// ParticipantIDs returns the ids of the chat's participants in stored order.
func (c Chat) ParticipantIDs() []int64 {
	ids := make([]int64, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasParticipant reports whether userID is listed in the chat.
func (c Chat) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Sender is the author summary embedded in a message.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Message is a persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    Sender    `json:"sender"`
}

// NewChat describes a chat to create. CreatorID becomes its admin; unknown
// entries in ParticipantIDs are skipped.
type NewChat struct {
	Name           string
	IsGroup        bool
	CreatorID      int64
	ParticipantIDs []int64
}

// Store is the persisted-state collaborator.
type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
	// UpdateUser overwrites the username, email and password hash of u.ID.
	UpdateUser(ctx context.Context, u User) (User, error)
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error

	CreateChat(ctx context.Context, chat NewChat) (Chat, error)
	GetChat(ctx context.Context, id int64) (Chat, error)
	ListUserChats(ctx context.Context, userID int64) ([]Chat, error)
	FindDirectChat(ctx context.Context, a, b int64) (Chat, error)
	DeleteChat(ctx context.Context, id int64) error

	GetParticipants(ctx context.Context, chatID int64) ([]int64, error)
	IsParticipant(ctx context.Context, userID, chatID int64) (bool, error)
	IsAdmin(ctx context.Context, userID, chatID int64) (bool, error)
	AddParticipant(ctx context.Context, chatID, userID int64) (Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID int64) (Chat, error)

	CreateMessage(ctx context.Context, chatID, senderID int64, content string) (Message, error)
	ListMessages(ctx context.Context, chatID int64) ([]Message, error)
}
