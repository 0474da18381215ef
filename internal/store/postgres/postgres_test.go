package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/store"
)

func TestMapErr(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, store.ErrNotFound},
		{"unique", &pgconn.PgError{Code: pgUniqueViolation}, store.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: pgForeignKeyViolation}, store.ErrNotFound},
		{"other", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapErr(tt.in, "op %d", 1)
			assert.True(t, errors.Is(err, tt.want))
			assert.Contains(t, err.Error(), "op 1")
		})
	}

	assert.NoError(t, mapErr(nil, "op"))
}

// openTestStore connects to ROOMCHAT_TEST_DATABASE_URL and skips when unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ROOMCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROOMCHAT_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	alice, err := s.CreateUser(ctx, "alice"+suffix, "", "hash")
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob"+suffix, "", "hash")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, alice.Username, "", "hash")
	assert.True(t, errors.Is(err, store.ErrConflict))

	renamed := alice
	renamed.Username = "alicia" + suffix
	renamed.Email = "alicia" + suffix + "@example.com"
	renamed, err = s.UpdateUser(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, "alicia"+suffix, renamed.Username)
	renamed.Username = bob.Username
	_, err = s.UpdateUser(ctx, renamed)
	assert.True(t, errors.Is(err, store.ErrConflict))

	chat, err := s.CreateChat(ctx, store.NewChat{
		Name:           "room",
		IsGroup:        true,
		CreatorID:      alice.ID,
		ParticipantIDs: []int64{bob.ID, -1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, chat.ParticipantIDs())

	ok, err := s.IsParticipant(ctx, bob.ID, chat.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	msg, err := s.CreateMessage(ctx, chat.ID, bob.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, bob.Username, msg.Sender.Username)

	msgs, err := s.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = s.AddParticipant(ctx, chat.ID, bob.ID)
	assert.True(t, errors.Is(err, store.ErrConflict))

	chat, err = s.RemoveParticipant(ctx, chat.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID}, chat.ParticipantIDs())

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	_, err = s.GetParticipants(ctx, chat.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
