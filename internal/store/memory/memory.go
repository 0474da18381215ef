// Package memory is an in-process store.Store used in development mode and
// by tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/store"
)

type member struct {
	userID  int64
	isAdmin bool
}

type chatRow struct {
	id        int64
	name      string
	isGroup   bool
	createdAt time.Time
	members   []member
}

func (c *chatRow) indexOf(userID int64) int {
	for i, m := range c.members {
		if m.userID == userID {
			return i
		}
	}
	return -1
}

// Store keeps every record in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	nextUser int64
	nextChat int64
	nextMsg  int64
	users    map[int64]store.User
	chats    map[int64]*chatRow
	messages map[int64][]store.Message
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[int64]store.User),
		chats:    make(map[int64]*chatRow),
		messages: make(map[int64][]store.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser adds an active user. Usernames and non-empty emails are unique.
func (s *Store) CreateUser(_ context.Context, username, email, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return store.User{}, errors.Wrapf(store.ErrConflict, "username %q", username)
		}
		if email != "" && u.Email == email {
			return store.User{}, errors.Wrapf(store.ErrConflict, "email %q", email)
		}
	}

	s.nextUser++
	u := store.User{
		ID:           s.nextUser,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		LastSeen:     s.now(),
	}
	s.users[u.ID] = u
	return u, nil
}

// GetUser returns the user with id.
func (s *Store) GetUser(_ context.Context, id int64) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, errors.Wrapf(store.ErrNotFound, "user %d", id)
	}
	return u, nil
}

// GetUserByUsername returns the user with an exact username match.
func (s *Store) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, errors.Wrapf(store.ErrNotFound, "user %q", username)
}

// SearchUsers returns users whose username or email contains query,
// ignoring case, ordered by id.
func (s *Store) SearchUsers(_ context.Context, query string) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	out := make([]store.User, 0)
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b store.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// UpdateUser overwrites the username, email and password hash of u.ID.
func (s *Store) UpdateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[u.ID]
	if !ok {
		return store.User{}, errors.Wrapf(store.ErrNotFound, "user %d", u.ID)
	}
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username {
			return store.User{}, errors.Wrapf(store.ErrConflict, "username %q", u.Username)
		}
		if u.Email != "" && other.Email == u.Email {
			return store.User{}, errors.Wrapf(store.ErrConflict, "email %q", u.Email)
		}
	}

	cur.Username = u.Username
	cur.Email = u.Email
	cur.PasswordHash = u.PasswordHash
	s.users[u.ID] = cur
	return cur, nil
}

// TouchLastSeen sets the user's last seen time.
func (s *Store) TouchLastSeen(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "user %d", id)
	}
	u.LastSeen = at
	s.users[id] = u
	return nil
}

// CreateChat stores nc with its creator as admin, skipping unknown or
// repeated participant ids.
func (s *Store) CreateChat(_ context.Context, nc store.NewChat) (store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[nc.CreatorID]; !ok {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "user %d", nc.CreatorID)
	}

	s.nextChat++
	row := &chatRow{
		id:        s.nextChat,
		name:      nc.Name,
		isGroup:   nc.IsGroup,
		createdAt: s.now(),
		members:   []member{{userID: nc.CreatorID, isAdmin: true}},
	}
	for _, id := range nc.ParticipantIDs {
		if _, ok := s.users[id]; !ok || row.indexOf(id) >= 0 {
			continue
		}
		row.members = append(row.members, member{userID: id})
	}
	s.chats[row.id] = row
	return s.viewLocked(row), nil
}

// GetChat returns the chat with id and its participants.
func (s *Store) GetChat(_ context.Context, id int64) (store.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.chats[id]
	if !ok {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "chat %d", id)
	}
	return s.viewLocked(row), nil
}

// ListUserChats returns the chats userID participates in, ordered by id.
func (s *Store) ListUserChats(_ context.Context, userID int64) ([]store.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Chat, 0)
	for _, row := range s.chats {
		if row.indexOf(userID) >= 0 {
			out = append(out, s.viewLocked(row))
		}
	}
	slices.SortFunc(out, func(a, b store.Chat) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// FindDirectChat returns the oldest non-group chat holding both a and b.
func (s *Store) FindDirectChat(_ context.Context, a, b int64) (store.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *chatRow
	for _, row := range s.chats {
		if row.isGroup || row.indexOf(a) < 0 || row.indexOf(b) < 0 {
			continue
		}
		if found == nil || row.id < found.id {
			found = row
		}
	}
	if found == nil {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "direct chat %d/%d", a, b)
	}
	return s.viewLocked(found), nil
}

// DeleteChat removes a chat together with its messages.
func (s *Store) DeleteChat(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return errors.Wrapf(store.ErrNotFound, "chat %d", id)
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}

// GetParticipants returns the participant ids of chatID in join order.
func (s *Store) GetParticipants(_ context.Context, chatID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.chats[chatID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	ids := make([]int64, 0, len(row.members))
	for _, m := range row.members {
		ids = append(ids, m.userID)
	}
	return ids, nil
}

// IsParticipant reports whether userID is in chatID. A missing chat is not
// an error.
func (s *Store) IsParticipant(_ context.Context, userID, chatID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.chats[chatID]
	return ok && row.indexOf(userID) >= 0, nil
}

// IsAdmin reports whether userID administers chatID.
func (s *Store) IsAdmin(_ context.Context, userID, chatID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	i := row.indexOf(userID)
	return i >= 0 && row.members[i].isAdmin, nil
}

// AddParticipant appends userID to chatID as a regular member.
func (s *Store) AddParticipant(_ context.Context, chatID, userID int64) (store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	if _, ok := s.users[userID]; !ok {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "user %d", userID)
	}
	if row.indexOf(userID) >= 0 {
		return store.Chat{}, errors.Wrapf(store.ErrConflict, "user %d already in chat %d", userID, chatID)
	}
	row.members = append(row.members, member{userID: userID})
	return s.viewLocked(row), nil
}

// RemoveParticipant drops userID from chatID.
func (s *Store) RemoveParticipant(_ context.Context, chatID, userID int64) (store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	i := row.indexOf(userID)
	if i < 0 {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "user %d not in chat %d", userID, chatID)
	}
	row.members = slices.Delete(row.members, i, i+1)
	return s.viewLocked(row), nil
}

// CreateMessage appends a message from senderID to chatID.
func (s *Store) CreateMessage(_ context.Context, chatID, senderID int64, content string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return store.Message{}, errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	sender, ok := s.users[senderID]
	if !ok {
		return store.Message{}, errors.Wrapf(store.ErrNotFound, "user %d", senderID)
	}

	s.nextMsg++
	msg := store.Message{
		ID:        s.nextMsg,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now(),
		Sender:    store.Sender{ID: sender.ID, Username: sender.Username},
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	return msg, nil
}

// ListMessages returns chatID's messages oldest first.
func (s *Store) ListMessages(_ context.Context, chatID int64) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	out := make([]store.Message, len(s.messages[chatID]))
	copy(out, s.messages[chatID])
	return out, nil
}

func (s *Store) viewLocked(row *chatRow) store.Chat {
	c := store.Chat{
		ID:           row.id,
		Name:         row.name,
		IsGroup:      row.isGroup,
		CreatedAt:    row.createdAt,
		Participants: make([]store.Participant, 0, len(row.members)),
	}
	for _, m := range row.members {
		c.Participants = append(c.Participants, store.Participant{
			ID:       m.userID,
			Username: s.users[m.userID].Username,
			IsAdmin:  m.isAdmin,
		})
	}
	return c
}
