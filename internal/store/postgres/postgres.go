// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"embed"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a pgxpool-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL, pings it and applies the embedded migrations.
func Open(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		sqlb, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return errors.Wrapf(err, "read %s", e.Name())
		}
		if _, err := s.pool.Exec(ctx, string(sqlb)); err != nil {
			return errors.Wrapf(err, "apply %s", e.Name())
		}
		s.log.Info("migration applied", zap.String("file", e.Name()))
	}
	return nil
}

// mapErr converts pgx failures into store error kinds.
func mapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(store.ErrNotFound, format, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Wrapf(store.ErrConflict, format, args...)
		case pgForeignKeyViolation:
			return errors.Wrapf(store.ErrNotFound, format, args...)
		}
	}
	return errors.Wrapf(err, format, args...)
}

const userColumns = `id, username, COALESCE(email, ''), hashed_password, is_active, last_seen`

func scanUser(row pgx.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.LastSeen)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, hashed_password) VALUES ($1, NULLIF($2, ''), $3)
		RETURNING `+userColumns, username, email, passwordHash))
	return u, mapErr(err, "create user %q", username)
}

func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapErr(err, "user %d", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	return u, mapErr(err, "user %q", username)
}

// UpdateUser rewrites the profile columns of u.ID. A username or email held
// by another row is a conflict.
func (s *Store) UpdateUser(ctx context.Context, u store.User) (store.User, error) {
	out, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET username = $2, email = NULLIF($3, ''), hashed_password = $4
		WHERE id = $1 RETURNING `+userColumns, u.ID, u.Username, u.Email, u.PasswordHash))
	return out, mapErr(err, "update user %d", u.ID)
}

func (s *Store) SearchUsers(ctx context.Context, query string) ([]store.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		WHERE username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY id LIMIT 50`, query)
	if err != nil {
		return nil, mapErr(err, "search users")
	}
	defer rows.Close()

	out := make([]store.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err, "scan user")
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err(), "search users")
}

func (s *Store) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_seen = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapErr(err, "touch user %d", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrNotFound, "user %d", id)
	}
	return nil
}

func (s *Store) CreateChat(ctx context.Context, nc store.NewChat) (store.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Chat{}, errors.Wrap(err, "begin create chat")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO chats (name, is_group) VALUES ($1, $2) RETURNING id`, nc.Name, nc.IsGroup).Scan(&id); err != nil {
		return store.Chat{}, mapErr(err, "insert chat")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, is_admin) VALUES ($1, $2, TRUE)`, id, nc.CreatorID); err != nil {
		return store.Chat{}, mapErr(err, "add creator %d", nc.CreatorID)
	}
	if len(nc.ParticipantIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id)
			SELECT $1, u.id FROM users u WHERE u.id = ANY($2)
			ON CONFLICT (chat_id, user_id) DO NOTHING`, id, nc.ParticipantIDs); err != nil {
			return store.Chat{}, mapErr(err, "add participants")
		}
	}

	chat, err := loadChat(ctx, tx, id)
	if err != nil {
		return store.Chat{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Chat{}, errors.Wrap(err, "commit create chat")
	}
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, id int64) (store.Chat, error) {
	return loadChat(ctx, s.pool, id)
}

func loadChat(ctx context.Context, q querier, id int64) (store.Chat, error) {
	var c store.Chat
	if err := q.QueryRow(ctx,
		`SELECT id, name, is_group, created_at FROM chats WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt); err != nil {
		return store.Chat{}, mapErr(err, "chat %d", id)
	}

	rows, err := q.Query(ctx,
		`SELECT u.id, u.username, p.is_admin
		FROM chat_participants p JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = $1 ORDER BY p.joined_at, u.id`, id)
	if err != nil {
		return store.Chat{}, mapErr(err, "participants of chat %d", id)
	}
	defer rows.Close()

	c.Participants = make([]store.Participant, 0)
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.IsAdmin); err != nil {
			return store.Chat{}, mapErr(err, "scan participant")
		}
		c.Participants = append(c.Participants, p)
	}
	return c, mapErr(rows.Err(), "participants of chat %d", id)
}

func (s *Store) ListUserChats(ctx context.Context, userID int64) ([]store.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id FROM chat_participants WHERE user_id = $1 ORDER BY chat_id`, userID)
	if err != nil {
		return nil, mapErr(err, "chats of user %d", userID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapErr(err, "chats of user %d", userID)
	}

	out := make([]store.Chat, 0, len(ids))
	for _, id := range ids {
		c, err := loadChat(ctx, s.pool, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) FindDirectChat(ctx context.Context, a, b int64) (store.Chat, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT c.id FROM chats c
		JOIN chat_participants pa ON pa.chat_id = c.id AND pa.user_id = $1
		JOIN chat_participants pb ON pb.chat_id = c.id AND pb.user_id = $2
		WHERE NOT c.is_group ORDER BY c.id LIMIT 1`, a, b).Scan(&id)
	if err != nil {
		return store.Chat{}, mapErr(err, "direct chat %d/%d", a, b)
	}
	return loadChat(ctx, s.pool, id)
}

func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "delete chat %d", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrNotFound, "chat %d", id)
	}
	return nil
}

func (s *Store) chatExists(ctx context.Context, chatID int64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return mapErr(err, "chat %d", chatID)
	}
	if !exists {
		return errors.Wrapf(store.ErrNotFound, "chat %d", chatID)
	}
	return nil
}

func (s *Store) GetParticipants(ctx context.Context, chatID int64) ([]int64, error) {
	if err := s.chatExists(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at, user_id`, chatID)
	if err != nil {
		return nil, mapErr(err, "participants of chat %d", chatID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return ids, mapErr(err, "participants of chat %d", chatID)
}

func (s *Store) IsParticipant(ctx context.Context, userID, chatID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&ok)
	return ok, mapErr(err, "participant %d of chat %d", userID, chatID)
}

func (s *Store) IsAdmin(ctx context.Context, userID, chatID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2 AND is_admin)`,
		chatID, userID).Scan(&ok)
	return ok, mapErr(err, "admin %d of chat %d", userID, chatID)
}

func (s *Store) AddParticipant(ctx context.Context, chatID, userID int64) (store.Chat, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chatID, userID); err != nil {
		return store.Chat{}, mapErr(err, "add user %d to chat %d", userID, chatID)
	}
	return loadChat(ctx, s.pool, chatID)
}

func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID int64) (store.Chat, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return store.Chat{}, mapErr(err, "remove user %d from chat %d", userID, chatID)
	}
	if tag.RowsAffected() == 0 {
		return store.Chat{}, errors.Wrapf(store.ErrNotFound, "user %d not in chat %d", userID, chatID)
	}
	return loadChat(ctx, s.pool, chatID)
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.content, m.created_at, u.id, u.username`

func scanMessage(row pgx.Row) (store.Message, error) {
	var m store.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Sender.ID, &m.Sender.Username)
	return m, err
}

func (s *Store) CreateMessage(ctx context.Context, chatID, senderID int64, content string) (store.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`WITH m AS (
			INSERT INTO messages (chat_id, sender_id, content) VALUES ($1, $2, $3)
			RETURNING id, chat_id, sender_id, content, created_at
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`,
		chatID, senderID, content))
	return m, mapErr(err, "create message in chat %d", chatID)
}

func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]store.Message, error) {
	if err := s.chatExists(ctx, chatID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1 ORDER BY m.id`, chatID)
	if err != nil {
		return nil, mapErr(err, "messages of chat %d", chatID)
	}
	defer rows.Close()

	out := make([]store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err, "scan message")
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err(), "messages of chat %d", chatID)
}
