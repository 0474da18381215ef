package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.ErrNotAuthorized, http.StatusForbidden},
		{chat.ErrForbidden, http.StatusForbidden},
		{chat.ErrNotFound, http.StatusNotFound},
		{chat.ErrConflict, http.StatusBadRequest},
		{chat.ErrMalformedInput, http.StatusBadRequest},
		{chat.ErrBadCredentials, http.StatusUnauthorized},
		{chat.ErrWrongPassword, http.StatusBadRequest},
		{chat.ErrStoreFailure, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(errors.Wrap(tt.err, "ctx")))
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/users", "", registerRequest{Username: "alice", Email: "a@example.com", Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", created["username"])
	assert.NotContains(t, created, "password_hash")

	rec = env.do(t, http.MethodPost, "/api/users", "", registerRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/token", "", tokenRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	form := url.Values{"username": {"alice"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[tokenResponse](t, rec)
	assert.Equal(t, "bearer", tok.TokenType)

	rec = env.do(t, http.MethodGet, "/api/users/me", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, false, me["online"])
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t, nil)
	_, tok := env.user(t, "alice")
	env.user(t, "bob")

	rec := env.do(t, http.MethodPut, "/api/users/me", "", updateProfileRequest{Username: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/users/me", tok, updateProfileRequest{Username: "alicia", Email: "alicia@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "alicia", me["username"])
	assert.Equal(t, "alicia@example.com", me["email"])

	rec = env.do(t, http.MethodPut, "/api/users/me", tok, updateProfileRequest{Username: "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/users/me", tok, updateProfileRequest{Email: "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/users/me", tok, updateProfileRequest{CurrentPassword: "wrong", NewPassword: "new"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password is incorrect", decode[map[string]any](t, rec)["detail"])

	rec = env.do(t, http.MethodPut, "/api/users/me", tok, updateProfileRequest{CurrentPassword: "pw", NewPassword: "new"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/token", "", tokenRequest{Username: "alicia", Password: "pw"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/token", "", tokenRequest{Username: "alicia", Password: "new"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/users/me", "/api/chats", "/api/chats/1/messages"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		rec = env.do(t, http.MethodGet, path, "nope", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestChatLifecycleOverREST(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")
	carol, carolTok := env.user(t, "carol")

	// bob is online and gets chats_update events for every change to his chats
	bobConn := connectUser(env.hub, bob.ID)

	rec := env.do(t, http.MethodPost, "/api/chats", aliceTok, createChatRequest{Name: "team", IsGroup: true, ParticipantIDs: []int64{bob.ID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	team := decode[map[string]any](t, rec)
	teamID := int64(team["id"].(float64))
	assert.Equal(t, "chats_update", nextEvent(t, bobConn)["type"])

	rec = env.do(t, http.MethodGet, "/api/chats", bobTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/chats/"+itoa(teamID), carolTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/chats/999", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/chats/abc", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chats/"+itoa(teamID)+"/participants/"+itoa(carol.ID), bobTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/chats/"+itoa(teamID)+"/participants/"+itoa(carol.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/chats/"+itoa(teamID)+"/participants/"+itoa(carol.ID), aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chats/"+itoa(teamID)+"/messages", carolTok, sendMessageRequest{Content: "hey"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/chats/"+itoa(teamID)+"/messages", aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]map[string]any](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey", msgs[0]["content"])

	rec = env.do(t, http.MethodPost, "/api/chats/"+itoa(teamID)+"/leave", carolTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chats_update", nextEvent(t, bobConn)["type"])

	rec = env.do(t, http.MethodDelete, "/api/chats/"+itoa(teamID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["deleted"])
	assert.Equal(t, "chats_update", nextEvent(t, bobConn)["type"])

	rec = env.do(t, http.MethodDelete, "/api/chats/"+itoa(teamID), bobTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["deleted"])
	ev := nextEvent(t, bobConn)
	assert.Equal(t, "chats_update", ev["type"])
	assert.Equal(t, true, ev["chat"].(map[string]any)["deleted"])
}

func TestDirectChatOverREST(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceTok := env.user(t, "alice")
	bob, _ := env.user(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/chats/direct/"+itoa(bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dm := decode[map[string]any](t, rec)
	assert.Equal(t, "Direct Message with bob", dm["name"])

	rec = env.do(t, http.MethodPost, "/api/chats/direct/"+itoa(bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dm["id"], decode[map[string]any](t, rec)["id"])

	rec = env.do(t, http.MethodPost, "/api/chats/direct/999", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserLookupShowsOnline(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceTok := env.user(t, "alice")
	bob, _ := env.user(t, "bob")
	connectUser(env.hub, bob.ID)

	rec := env.do(t, http.MethodGet, "/api/users/"+itoa(bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["online"])

	rec = env.do(t, http.MethodGet, "/api/users/search?query=bo", aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/users/search", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/999", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
