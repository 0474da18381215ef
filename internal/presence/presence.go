// Package presence mirrors live connection state into Redis so other tools
// can see who is online and when a user was last seen.
//
// Keys:
//
//	pres:user:{id}  = "1" with TTL, refreshed while the user stays connected
//	lastseen:{id}   = RFC3339 timestamp written on disconnect
package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the presence mirror. Online and Offline never block the caller:
// they record the newest registration per user and queue the write for a
// single worker, which applies writes in the order they were accepted.
type Redis struct {
	rdb  *redis.Client
	ttl  time.Duration
	tick time.Duration
	log  *zap.Logger

	mu      sync.Mutex
	users   map[int64]registration
	pending []write
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// registration is the newest presence call accepted for a user.
type registration struct {
	gen    uint64
	online bool
}

type write struct {
	userID int64
	online bool
	at     time.Time
}

// Options configures the Redis connection and key lifetime.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, opts Options, log *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return New(rdb, opts.TTL, log), nil
}

// New wraps an existing client and starts the write worker. Live users are
// refreshed every third of ttl.
func New(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	p := &Redis{
		rdb:   rdb,
		ttl:   ttl,
		tick:  ttl / 3,
		log:   log,
		users: make(map[int64]registration),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func userKey(id int64) string     { return "pres:user:" + strconv.FormatInt(id, 10) }
func lastSeenKey(id int64) string { return "lastseen:" + strconv.FormatInt(id, 10) }

// Online marks userID online for registration gen. It is ignored when a
// call for the same or a newer registration was already accepted.
func (p *Redis) Online(userID int64, gen uint64) {
	p.accept(userID, gen, true)
}

// Offline marks registration gen of userID as ended, deletes the online key
// and records last seen. It is ignored once a newer registration exists.
func (p *Redis) Offline(userID int64, gen uint64) {
	p.accept(userID, gen, false)
}

func (p *Redis) accept(userID int64, gen uint64, online bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if cur, ok := p.users[userID]; ok && (gen < cur.gen || (gen == cur.gen && (online || !cur.online))) {
		p.log.Debug("stale presence call dropped",
			zap.Int64("user_id", userID), zap.Uint64("gen", gen), zap.Uint64("current_gen", cur.gen))
		return false
	}
	p.users[userID] = registration{gen: gen, online: online}
	p.pending = append(p.pending, write{userID: userID, online: online, at: time.Now().UTC()})
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// isOnline reports the presence state the mirror currently holds for userID.
func (p *Redis) isOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.users[userID].online
}

func (p *Redis) run() {
	defer p.wg.Done()
	t := time.NewTicker(p.tick)
	defer t.Stop()
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-t.C:
			p.flush()
			p.refresh()
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *Redis) flush() {
	p.mu.Lock()
	writes := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, w := range writes {
		if w.online {
			p.heartbeat(w.userID)
			continue
		}
		p.markOffline(w.userID, w.at)
	}
}

// refresh extends the TTL of every user currently online.
func (p *Redis) refresh() {
	p.mu.Lock()
	var live []int64
	for id, r := range p.users {
		if r.online {
			live = append(live, id)
		}
	}
	p.mu.Unlock()
	if len(live) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range live {
			pipe.Set(ctx, userKey(id), "1", p.ttl)
		}
		return nil
	})
	if err != nil {
		p.log.Warn("presence refresh failed", zap.Int("users", len(live)), zap.Error(err))
	}
}

func (p *Redis) heartbeat(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.Set(ctx, userKey(userID), "1", p.ttl).Err(); err != nil {
		p.log.Warn("presence heartbeat failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (p *Redis) markOffline(userID int64, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(userID))
		pipe.Set(ctx, lastSeenKey(userID), at.Format(time.RFC3339), 0)
		return nil
	})
	if err != nil {
		p.log.Warn("presence offline failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// LastSeen returns the recorded disconnect time. ok is false when none exists.
func (p *Redis) LastSeen(ctx context.Context, userID int64) (t time.Time, ok bool, err error) {
	val, err := p.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "get last seen")
	}
	t, err = time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "parse last seen")
	}
	return t, true, nil
}

// Close stops the worker after it applies the queued writes, then closes
// the client. Online keys left behind expire with their TTL.
func (p *Redis) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	return p.rdb.Close()
}
