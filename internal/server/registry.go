package server

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Connect makes c the live connection of c.UserID() and returns the
// connection it replaced, if any. The replaced connection's queue is closed
// so its pumps wind down. Room membership is left untouched.
func (h *Hub) Connect(c *Client) (replaced *Client) {
	s := h.userShard(c.userID)
	s.mu.Lock()
	e, ok := s.users[c.userID]
	if !ok {
		e = &userEntry{rooms: make(map[int64]struct{})}
		s.users[c.userID] = e
	}
	if e.client == c {
		s.mu.Unlock()
		return nil
	}
	replaced, e.client = e.client, c
	e.gen = h.gen.Add(1)
	gen := e.gen
	s.mu.Unlock()

	if replaced != nil {
		replaced.closeSend()
		h.log.Info("connection replaced",
			zap.Int64("user_id", c.userID), zap.String("conn_id", c.id), zap.String("replaced_conn_id", replaced.id))
	} else {
		h.log.Info("client registered",
			zap.Int64("user_id", c.userID), zap.String("conn_id", c.id), zap.String("addr", c.addr))
	}
	for _, o := range h.observers {
		o.Online(c.userID, gen)
	}
	return replaced
}

// Disconnect removes userID from the registry and from every room it joined.
// Calling it for an absent user is a no-op.
func (h *Hub) Disconnect(userID int64) {
	h.remove(userID, nil)
}

// release disconnects c's user only while c is still its live connection, so
// a superseded connection cannot unregister its replacement.
func (h *Hub) release(c *Client) {
	h.remove(c.userID, c)
}

func (h *Hub) remove(userID int64, only *Client) {
	s := h.userShard(userID)
	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok || (only != nil && e.client != only) {
		s.mu.Unlock()
		return
	}
	delete(s.users, userID)
	for roomID := range e.rooms {
		h.dropMember(roomID, userID)
	}
	s.mu.Unlock()

	if e.client == nil {
		return
	}
	e.client.closeSend()
	h.log.Info("client unregistered",
		zap.Int64("user_id", userID), zap.String("conn_id", e.client.id), zap.Int("rooms_left", len(e.rooms)))
	for _, o := range h.observers {
		o.Offline(userID, e.gen)
	}
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID int64) bool {
	return h.clientOf(userID) != nil
}

func (h *Hub) clientOf(userID int64) *Client {
	s := h.userShard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.users[userID]; ok {
		return e.client
	}
	return nil
}

// SendTo queues ev on userID's connection. It returns false when the user is
// offline or its queue overflowed; an overflowing connection is disconnected.
func (h *Hub) SendTo(userID int64, ev chat.Event) bool {
	payload, err := encodeEvent(ev)
	if err != nil {
		h.log.Error("encode event", zap.String("type", string(ev.EventType())), zap.Error(err))
		return false
	}
	return h.deliver(userID, payload)
}

func (h *Hub) deliver(userID int64, payload []byte) bool {
	c := h.clientOf(userID)
	if c == nil {
		return false
	}
	if c.enqueue(payload) {
		return true
	}
	h.log.Warn("outbound queue full, dropping connection",
		zap.Int64("user_id", userID), zap.String("conn_id", c.id))
	h.release(c)
	return false
}

func encodeEvent(ev chat.Event) ([]byte, error) {
	return json.Marshal(ev)
}
