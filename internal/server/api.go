package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

const ctxUserKey = "roomchat.user"

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type createChatRequest struct {
	Name           string  `json:"name" binding:"required"`
	IsGroup        bool    `json:"is_group"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type userView struct {
	store.User
	Online bool `json:"online"`
}

type deleteChatResponse struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// statusOf maps the chat error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, chat.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotAuthorized), errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrConflict), errors.Is(err, chat.ErrMalformedInput), errors.Is(err, chat.ErrWrongPassword):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		detail = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detail})
}

// requireUser resolves the bearer token to a user and stores it on the context.
func (s *Server) requireUser(c *gin.Context) {
	user, err := s.accounts.Authenticate(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		if errors.Is(err, chat.ErrStoreFailure) {
			s.fail(c, err)
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		return
	}
	c.Set(ctxUserKey, user)
	c.Next()
}

func currentUser(c *gin.Context) store.User {
	return c.MustGet(ctxUserKey).(store.User)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := s.accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// login accepts either a form body (OAuth2 password flow) or JSON.
func (s *Server) login(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	tok, err := s.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, chat.ErrBadCredentials) {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, s.viewUser(c, currentUser(c)))
}

func (s *Server) updateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := s.accounts.UpdateProfile(c.Request.Context(), currentUser(c).ID, chat.ProfileUpdate{
		Username:        req.Username,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if errors.Is(err, chat.ErrWrongPassword) {
		badRequest(c, "Current password is incorrect")
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewUser(c, u))
}

func (s *Server) searchUsers(c *gin.Context) {
	users, err := s.accounts.SearchUsers(c.Request.Context(), c.Query("query"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := s.accounts.GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewUser(c, u))
}

// viewUser adds live presence to u. A presence mirror, when configured,
// supplies a fresher last_seen than the stored row.
func (s *Server) viewUser(c *gin.Context, u store.User) userView {
	v := userView{User: u, Online: s.hub.IsOnline(u.ID)}
	if s.presence == nil {
		return v
	}
	seen, ok, err := s.presence.LastSeen(c.Request.Context(), u.ID)
	switch {
	case err != nil:
		s.log.Warn("presence lookup failed", zap.Int64("user_id", u.ID), zap.Error(err))
	case ok && seen.After(v.LastSeen):
		v.LastSeen = seen
	}
	return v
}

func (s *Server) listChats(c *gin.Context) {
	chats, err := s.chats.ListChats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := s.chats.CreateChat(c.Request.Context(), currentUser(c).ID, req.Name, req.IsGroup, req.ParticipantIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getChat(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	got, err := s.chats.GetChat(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) deleteChat(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deleted, err := s.chats.DeleteChat(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteChatResponse{ID: id, Deleted: deleted})
}

func (s *Server) leaveChat(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	updated, err := s.chats.LeaveChat(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) addParticipant(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	updated, err := s.chats.AddParticipant(c.Request.Context(), currentUser(c).ID, chatID, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) directChat(c *gin.Context) {
	target, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	dm, err := s.chats.CreateDirectChat(c.Request.Context(), currentUser(c).ID, target)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dm)
}

func (s *Server) listMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := s.chats.ListMessages(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) sendMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	msg, err := s.chats.SendMessage(c.Request.Context(), currentUser(c).ID, id, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// requestLogger logs one line per request at debug level, or warn for
// server errors.
func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
	}
	if c.Writer.Status() >= http.StatusInternalServerError {
		s.log.Warn("http request", fields...)
		return
	}
	s.log.Debug("http request", fields...)
}
