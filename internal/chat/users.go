package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Accounts registers users and exchanges passwords for access tokens.
type Accounts struct {
	store  store.Store
	tokens *auth.Tokens
}

// NewAccounts returns Accounts backed by st that sign tokens with tokens.
func NewAccounts(st store.Store, tokens *auth.Tokens) *Accounts {
	return &Accounts{store: st, tokens: tokens}
}

// Register creates an active user with a bcrypt password hash.
func (a *Accounts) Register(ctx context.Context, username, email, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, errors.Wrap(ErrMalformedInput, "username and password are required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	u, err := a.store.CreateUser(ctx, username, strings.TrimSpace(email), hash)
	return u, storeErr(err, "create user")
}

// Login returns a signed token for username when password matches.
func (a *Accounts) Login(ctx context.Context, username, password string) (string, error) {
	u, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", errors.Wrap(ErrBadCredentials, "unknown user")
	}
	if err != nil {
		return "", storeErr(err, "get user")
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return "", errors.Wrap(ErrBadCredentials, "password mismatch")
	}
	if !u.IsActive {
		return "", errors.Wrap(ErrForbidden, "inactive user")
	}
	return a.tokens.Issue(u.ID)
}

// Authenticate resolves a bearer token to an existing, active user.
func (a *Accounts) Authenticate(ctx context.Context, token string) (store.User, error) {
	id, err := a.tokens.Verify(token)
	if err != nil {
		return store.User{}, errors.Wrap(ErrBadCredentials, err.Error())
	}
	u, err := a.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, errors.Wrap(ErrBadCredentials, "token user no longer exists")
	}
	if err != nil {
		return store.User{}, storeErr(err, "get user")
	}
	if !u.IsActive {
		return store.User{}, errors.Wrap(ErrForbidden, "inactive user")
	}
	return u, nil
}

// ProfileUpdate lists the profile fields to change. Empty fields are left
// as they are; NewPassword needs CurrentPassword to match.
type ProfileUpdate struct {
	Username        string
	Email           string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile applies upd to userID. A username or email already held by
// another account is ErrConflict.
func (a *Accounts) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (store.User, error) {
	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, storeErr(err, "get user")
	}
	if name := strings.TrimSpace(upd.Username); name != "" {
		u.Username = name
	}
	if email := strings.TrimSpace(upd.Email); email != "" {
		u.Email = email
	}
	if upd.NewPassword != "" {
		if upd.CurrentPassword == "" || !auth.CheckPassword(u.PasswordHash, upd.CurrentPassword) {
			return store.User{}, errors.WithStack(ErrWrongPassword)
		}
		hash, err := auth.HashPassword(upd.NewPassword)
		if err != nil {
			return store.User{}, err
		}
		u.PasswordHash = hash
	}
	u, err = a.store.UpdateUser(ctx, u)
	return u, storeErr(err, "update user")
}

// GetUser returns a user by id.
func (a *Accounts) GetUser(ctx context.Context, id int64) (store.User, error) {
	u, err := a.store.GetUser(ctx, id)
	return u, storeErr(err, "get user")
}

// SearchUsers matches query against usernames and emails.
func (a *Accounts) SearchUsers(ctx context.Context, query string) ([]store.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Wrap(ErrMalformedInput, "query is required")
	}
	users, err := a.store.SearchUsers(ctx, query)
	return users, storeErr(err, "search users")
}
