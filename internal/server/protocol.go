package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

const (
	errNotAuthorizedToSend = "Not authorized to send messages to this chat"
	errSendFailed          = "Failed to send message"
	errNotAuthorizedToJoin = "Not authorized to join this chat"
	errJoinFailed          = "Failed to join chat"
)

// ChatService is the part of chat.Service the WebSocket path needs.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, chatID int64, content string) (store.Message, error)
	AuthorizeJoin(ctx context.Context, userID, chatID int64) error
}

// Protocol dispatches join_chat and message frames. No frame error closes
// the connection.
type Protocol struct {
	hub          *Hub
	chats        ChatService
	log          *zap.Logger
	strictJoin   bool
	storeTimeout time.Duration
}

// NewProtocol returns a Protocol joining rooms on hub and sending through chats.
func NewProtocol(hub *Hub, chats ChatService, cfg *Config, log *zap.Logger) *Protocol {
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Protocol{
		hub:          hub,
		chats:        chats,
		log:          log,
		strictJoin:   cfg.JoinRequiresParticipant,
		storeTimeout: timeout,
	}
}

// HandleFrame decodes raw and applies it for c.
func (p *Protocol) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		p.log.Info("malformed frame", zap.String("conn_id", c.id), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	switch f.Type {
	case FrameJoinChat:
		p.joinChat(ctx, c, f)
	case FrameMessage:
		p.message(ctx, c, f)
	default:
		p.log.Info("unknown frame type", zap.String("conn_id", c.id), zap.String("type", f.Type))
	}
}

func (p *Protocol) joinChat(ctx context.Context, c *Client, f Frame) {
	if f.ChatID <= 0 {
		p.log.Info("join_chat without chat_id", zap.String("conn_id", c.id))
		return
	}

	if p.strictJoin {
		if err := p.chats.AuthorizeJoin(ctx, c.userID, f.ChatID); err != nil {
			msg := errJoinFailed
			if errors.Is(err, chat.ErrNotAuthorized) {
				msg = errNotAuthorizedToJoin
			} else {
				p.log.Error("authorize join", zap.Int64("chat_id", f.ChatID), zap.Error(err))
			}
			p.reply(c, chat.NewErrorEvent(msg))
			return
		}
	}

	if !p.hub.joinFrom(c, f.ChatID) {
		p.log.Debug("join_chat from a closed connection", zap.String("conn_id", c.id), zap.Int64("chat_id", f.ChatID))
		return
	}
	p.log.Debug("joined chat", zap.Int64("user_id", c.userID), zap.Int64("chat_id", f.ChatID))
}

func (p *Protocol) message(ctx context.Context, c *Client, f Frame) {
	_, err := p.chats.SendMessage(ctx, c.userID, f.ChatID, f.Content)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrMalformedInput):
		p.log.Info("malformed message frame", zap.String("conn_id", c.id), zap.Error(err))
	case errors.Is(err, chat.ErrNotAuthorized):
		p.reply(c, chat.NewErrorEvent(errNotAuthorizedToSend))
	default:
		p.log.Error("send message", zap.Int64("user_id", c.userID), zap.Int64("chat_id", f.ChatID), zap.Error(err))
		p.reply(c, chat.NewErrorEvent(errSendFailed))
	}
}

func (p *Protocol) reply(c *Client, ev chat.Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		p.log.Error("encode event", zap.Error(err))
		return
	}
	c.sendEvent(payload)
}
