package server

import "slices"

// Join subscribes userID to live delivery for roomID. It does not consult
// persisted chat participation.
func (h *Hub) Join(userID, roomID int64) {
	h.join(userID, roomID, nil)
}

// joinFrom subscribes c's user to roomID only while c is still its live
// connection. A frame read before c was released or replaced must not leave
// membership behind for the next connection.
func (h *Hub) joinFrom(c *Client, roomID int64) bool {
	return h.join(c.userID, roomID, c)
}

func (h *Hub) join(userID, roomID int64, only *Client) bool {
	s := h.userShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if only != nil && (!ok || e.client != only) {
		return false
	}
	if !ok {
		e = &userEntry{rooms: make(map[int64]struct{})}
		s.users[userID] = e
	}
	if _, joined := e.rooms[roomID]; joined {
		return true
	}
	e.rooms[roomID] = struct{}{}

	rs := h.roomShard(roomID)
	rs.mu.Lock()
	members, ok := rs.rooms[roomID]
	if !ok {
		members = make(map[int64]struct{})
		rs.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	rs.mu.Unlock()
	return true
}

// Leave unsubscribes userID from roomID. The room entry is dropped once it
// has no members.
func (h *Hub) Leave(userID, roomID int64) {
	s := h.userShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		return
	}
	if _, joined := e.rooms[roomID]; !joined {
		return
	}
	delete(e.rooms, roomID)
	h.dropMember(roomID, userID)

	if e.client == nil && len(e.rooms) == 0 {
		delete(s.users, userID)
	}
}

// dropMember removes userID from roomID's member set. Callers hold the
// user's shard lock.
func (h *Hub) dropMember(roomID, userID int64) {
	rs := h.roomShard(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	members, ok := rs.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(rs.rooms, roomID)
	}
}

// MembersOf returns a sorted snapshot of the users joined to roomID.
func (h *Hub) MembersOf(roomID int64) []int64 {
	rs := h.roomShard(roomID)
	rs.mu.RLock()
	members := rs.rooms[roomID]
	out := make([]int64, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	rs.mu.RUnlock()

	slices.Sort(out)
	return out
}

// DropRoom unsubscribes every member of roomID, for a chat that no longer
// exists.
func (h *Hub) DropRoom(roomID int64) {
	for _, userID := range h.MembersOf(roomID) {
		h.Leave(userID, roomID)
	}
}
