// Package chat holds the chat operations that mutate persisted state and then
// notify live users, plus the outbound event types and error kinds shared by
// the REST and WebSocket paths.
package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Service commits chat changes to the store and then fans out notifications.
// A notification never undoes a committed change.
type Service struct {
	store  store.Store
	notify Notifier
	log    *zap.Logger
}

// NewService returns a Service writing to st and notifying through n.
func NewService(st store.Store, n Notifier, log *zap.Logger) *Service {
	return &Service{store: st, notify: n, log: log}
}

// SendMessage persists content from senderID in chatID and broadcasts it to
// the chat's live room. senderID must be a persisted participant.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID int64, content string) (store.Message, error) {
	if chatID <= 0 || content == "" {
		return store.Message{}, errors.Wrap(ErrMalformedInput, "message needs chat_id and content")
	}

	ok, err := s.store.IsParticipant(ctx, senderID, chatID)
	if err != nil {
		return store.Message{}, storeErr(err, "check participant")
	}
	if !ok {
		return store.Message{}, errors.Wrapf(ErrNotAuthorized, "user %d in chat %d", senderID, chatID)
	}

	msg, err := s.store.CreateMessage(ctx, chatID, senderID, content)
	if err != nil {
		return store.Message{}, storeErr(err, "create message")
	}

	n := s.notify.BroadcastToRoom(chatID, NewMessageEvent(msg))
	s.log.Debug("message broadcast",
		zap.Int64("chat_id", chatID), zap.Int64("message_id", msg.ID), zap.Int("delivered", n))
	return msg, nil
}

// AuthorizeJoin returns ErrNotAuthorized unless userID participates in chatID.
func (s *Service) AuthorizeJoin(ctx context.Context, userID, chatID int64) error {
	ok, err := s.store.IsParticipant(ctx, userID, chatID)
	if err != nil {
		return storeErr(err, "check participant")
	}
	if !ok {
		return errors.Wrapf(ErrNotAuthorized, "user %d in chat %d", userID, chatID)
	}
	return nil
}

// CreateChat creates a chat owned by actor. If the participant list cannot be
// read back after the commit, the chat is deleted again and the read error is
// returned, so callers never see a chat that was only partly announced.
func (s *Service) CreateChat(ctx context.Context, actor int64, name string, isGroup bool, participantIDs []int64) (store.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Chat{}, errors.Wrap(ErrMalformedInput, "chat name is required")
	}

	created, err := s.store.CreateChat(ctx, store.NewChat{
		Name:           name,
		IsGroup:        isGroup,
		CreatorID:      actor,
		ParticipantIDs: participantIDs,
	})
	if err != nil {
		return store.Chat{}, storeErr(err, "create chat")
	}

	recipients, err := s.store.GetParticipants(ctx, created.ID)
	if err != nil {
		if derr := s.store.DeleteChat(ctx, created.ID); derr != nil {
			s.log.Error("rollback of created chat failed",
				zap.Int64("chat_id", created.ID), zap.Error(derr))
		}
		return store.Chat{}, storeErr(err, "read participants")
	}

	s.notify.NotifyRoomUpdate(created.ID, UpdateNewChat, created)
	s.notifyUsers(recipients, created)
	return created, nil
}

// CreateDirectChat returns the one-to-one chat between actor and target,
// creating it when none exists. Both users are told about it either way.
func (s *Service) CreateDirectChat(ctx context.Context, actor, target int64) (store.Chat, error) {
	if actor == target {
		return store.Chat{}, errors.Wrap(ErrMalformedInput, "direct chat needs another user")
	}

	targetUser, err := s.store.GetUser(ctx, target)
	if err != nil {
		return store.Chat{}, storeErr(err, "get user")
	}

	existing, err := s.store.FindDirectChat(ctx, actor, target)
	switch {
	case err == nil:
		s.notifyUsers([]int64{actor, target}, existing)
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return store.Chat{}, storeErr(err, "find direct chat")
	}

	created, err := s.store.CreateChat(ctx, store.NewChat{
		Name:           "Direct Message with " + targetUser.Username,
		CreatorID:      actor,
		ParticipantIDs: []int64{target},
	})
	if err != nil {
		return store.Chat{}, storeErr(err, "create direct chat")
	}

	s.notifyUsers([]int64{actor, target}, created)
	return created, nil
}

// AddParticipant adds userID to chatID. Only chat admins may do this.
func (s *Service) AddParticipant(ctx context.Context, actor, chatID, userID int64) (store.Chat, error) {
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return store.Chat{}, storeErr(err, "get chat")
	}

	admin, err := s.store.IsAdmin(ctx, actor, chatID)
	if err != nil {
		return store.Chat{}, storeErr(err, "check admin")
	}
	if !admin {
		return store.Chat{}, errors.Wrap(ErrForbidden, "not authorized to add participants")
	}

	updated, err := s.store.AddParticipant(ctx, chatID, userID)
	if err != nil {
		return store.Chat{}, storeErr(err, "add participant")
	}

	s.notify.NotifyRoomUpdate(chatID, UpdateParticipant, updated)
	s.notify.NotifyUser(userID, updated)
	return updated, nil
}

// LeaveChat removes actor from chatID and tells the remaining participants.
func (s *Service) LeaveChat(ctx context.Context, actor, chatID int64) (store.Chat, error) {
	current, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return store.Chat{}, storeErr(err, "get chat")
	}
	if !current.HasParticipant(actor) {
		return store.Chat{}, errors.Wrap(ErrForbidden, "not a participant in this chat")
	}

	updated, err := s.store.RemoveParticipant(ctx, chatID, actor)
	if err != nil {
		return store.Chat{}, storeErr(err, "remove participant")
	}

	s.notify.Leave(actor, chatID)
	s.notifyUsers(updated.ParticipantIDs(), updated)
	return updated, nil
}

// DeleteChat deletes a direct chat outright. For a group chat it removes
// actor and deletes the chat only once nobody is left. deleted reports
// whether the chat is gone.
func (s *Service) DeleteChat(ctx context.Context, actor, chatID int64) (deleted bool, err error) {
	current, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return false, storeErr(err, "get chat")
	}
	if !current.HasParticipant(actor) {
		return false, errors.Wrap(ErrForbidden, "not authorized to delete this chat")
	}
	participants := current.ParticipantIDs()

	if !current.IsGroup {
		if err := s.store.DeleteChat(ctx, chatID); err != nil {
			return false, storeErr(err, "delete chat")
		}
		s.announceDeleted(chatID, participants)
		return true, nil
	}

	updated, err := s.store.RemoveParticipant(ctx, chatID, actor)
	if err != nil {
		return false, storeErr(err, "remove participant")
	}
	s.notify.Leave(actor, chatID)

	if len(updated.Participants) == 0 {
		if err := s.store.DeleteChat(ctx, chatID); err != nil {
			return false, storeErr(err, "delete empty chat")
		}
		s.announceDeleted(chatID, participants)
		return true, nil
	}

	s.notifyUsers(updated.ParticipantIDs(), updated)
	return false, nil
}

// ListChats returns the chats actor participates in.
func (s *Service) ListChats(ctx context.Context, actor int64) ([]store.Chat, error) {
	chats, err := s.store.ListUserChats(ctx, actor)
	return chats, storeErr(err, "list chats")
}

// GetChat returns chatID if actor participates in it.
func (s *Service) GetChat(ctx context.Context, actor, chatID int64) (store.Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return store.Chat{}, storeErr(err, "get chat")
	}
	if !c.HasParticipant(actor) {
		return store.Chat{}, errors.Wrap(ErrForbidden, "not authorized to access this chat")
	}
	return c, nil
}

// ListMessages returns the history of chatID if actor participates in it.
func (s *Service) ListMessages(ctx context.Context, actor, chatID int64) ([]store.Message, error) {
	if _, err := s.GetChat(ctx, actor, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	return msgs, storeErr(err, "list messages")
}

func (s *Service) announceDeleted(chatID int64, participants []int64) {
	gone := DeletedChat{ID: chatID, Deleted: true}
	s.notify.NotifyRoomUpdate(chatID, UpdateDeleted, gone)
	s.notify.DropRoom(chatID)
	s.notifyUsers(participants, gone)
}

func (s *Service) notifyUsers(userIDs []int64, payload any) {
	delivered := 0
	for _, id := range userIDs {
		if s.notify.NotifyUser(id, payload) {
			delivered++
		}
	}
	s.log.Debug("chats_update sent", zap.Int("targets", len(userIDs)), zap.Int("delivered", delivered))
}
