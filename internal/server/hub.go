package server

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const shardCount = 32

// ErrHubClosed is returned by Serve once Shutdown has started.
var ErrHubClosed = errors.New("hub is shut down")

// PresenceObserver is told when a user gains or loses its live connection.
// Calls are made outside the hub's locks, so two calls for the same user may
// arrive out of order. gen is the registration number, assigned under the
// user's lock and increasing across the hub; an Online carries the new
// registration and an Offline the one that ended. Observers must discard
// calls older than the newest gen they have seen for the user.
type PresenceObserver interface {
	Online(userID int64, gen uint64)
	Offline(userID int64, gen uint64)
}

type userEntry struct {
	client *Client
	gen    uint64
	rooms  map[int64]struct{}
}

type userShard struct {
	mu    sync.RWMutex
	users map[int64]*userEntry
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[int64]map[int64]struct{}
}

// Hub is the live side of the chat service. It maps each user to its single
// connection, tracks which users joined which rooms, and fans events out to
// them. State is striped across user shards and room shards; a user shard
// lock is always taken before a room shard lock.
type Hub struct {
	users     [shardCount]userShard
	rooms     [shardCount]roomShard
	seed      maphash.Seed
	queueSize int
	observers []PresenceObserver
	gen       atomic.Uint64
	log       *zap.Logger

	// serveMu orders Serve against Shutdown: once closing is set no client
	// is registered, and every client registered before it is in the
	// shutdown snapshot and counted in wg.
	serveMu sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub whose connections buffer up to cfg.SendQueueSize
// outbound events.
func NewHub(cfg *Config, log *zap.Logger, observers ...PresenceObserver) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		seed:      maphash.MakeSeed(),
		queueSize: cfg.SendQueueSize,
		observers: observers,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	if h.queueSize <= 0 {
		h.queueSize = defaultSendQueueSize
	}
	for i := range h.users {
		h.users[i].users = make(map[int64]*userEntry)
	}
	for i := range h.rooms {
		h.rooms[i].rooms = make(map[int64]map[int64]struct{})
	}
	return h
}

func (h *Hub) shardOf(id int64) int {
	return int(maphash.Comparable(h.seed, id) % shardCount)
}

func (h *Hub) userShard(userID int64) *userShard { return &h.users[h.shardOf(userID)] }
func (h *Hub) roomShard(roomID int64) *roomShard { return &h.rooms[h.shardOf(roomID)] }

// Serve registers c and starts its read and write pumps.
func (h *Hub) Serve(c *Client) error {
	h.serveMu.Lock()
	if h.closing {
		h.serveMu.Unlock()
		return ErrHubClosed
	}
	h.Connect(c)
	h.wg.Add(2)
	h.serveMu.Unlock()

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h.ctx)
	}()
	return nil
}

// Stats returns the number of connected users and of non-empty rooms.
func (h *Hub) Stats() (users, rooms int) {
	for i := range h.users {
		s := &h.users[i]
		s.mu.RLock()
		for _, e := range s.users {
			if e.client != nil {
				users++
			}
		}
		s.mu.RUnlock()
	}
	for i := range h.rooms {
		s := &h.rooms[i]
		s.mu.RLock()
		rooms += len(s.rooms)
		s.mu.RUnlock()
	}
	return users, rooms
}

// OnlineCount returns the number of connected users.
func (h *Hub) OnlineCount() int {
	n, _ := h.Stats()
	return n
}

func (h *Hub) snapshotClients() []*Client {
	var clients []*Client
	for i := range h.users {
		s := &h.users[i]
		s.mu.RLock()
		for _, e := range s.users {
			if e.client != nil {
				clients = append(clients, e.client)
			}
		}
		s.mu.RUnlock()
	}
	return clients
}

// Shutdown closes every live connection and waits for the pump goroutines to
// finish, or for timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.serveMu.Lock()
	h.closing = true
	h.serveMu.Unlock()
	h.cancel()

	clients := h.snapshotClients()
	for _, c := range clients {
		c.closeSend()
	}
	h.log.Info("closing client connections", zap.Int("count", len(clients)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		for _, c := range clients {
			c.closeConn()
		}
		h.log.Warn("hub shutdown timed out, connections force closed")
		return context.DeadlineExceeded
	}
}
