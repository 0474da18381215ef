package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/store"
)

// LastSeenRecorder writes users.last_seen when a live connection ends.
type LastSeenRecorder struct {
	store   store.Store
	log     *zap.Logger
	timeout time.Duration
}

// NewLastSeenRecorder returns a recorder writing through st.
func NewLastSeenRecorder(st store.Store, log *zap.Logger) *LastSeenRecorder {
	return &LastSeenRecorder{store: st, log: log, timeout: 5 * time.Second}
}

// Online is a no-op; last_seen only moves on disconnect.
func (r *LastSeenRecorder) Online(int64, uint64) {}

// Offline records the disconnect time without blocking the caller. Any
// ended registration counts, so gen is not consulted.
func (r *LastSeenRecorder) Offline(userID int64, _ uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.TouchLastSeen(ctx, userID, time.Now().UTC()); err != nil {
			r.log.Warn("record last seen failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}()
}
