package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes returns the HTTP handler serving the health check, the
// WebSocket endpoint and the REST API.
func (s *Server) SetupRoutes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.requestLogger)

	r.GET("/", gin.WrapF(s.HealthHandler))
	r.GET("/ws", gin.WrapF(s.WebSocketHandler))

	api := r.Group("/api")
	api.POST("/users", s.register)
	api.POST("/token", s.login)

	authed := api.Group("", s.requireUser)
	authed.GET("/users/me", s.me)
	authed.PUT("/users/me", s.updateMe)
	authed.GET("/users/search", s.searchUsers)
	authed.GET("/users/:id", s.getUser)

	authed.GET("/chats", s.listChats)
	authed.POST("/chats", s.createChat)
	authed.POST("/chats/direct/:user_id", s.directChat)
	authed.GET("/chats/:id", s.getChat)
	authed.DELETE("/chats/:id", s.deleteChat)
	authed.POST("/chats/:id/leave", s.leaveChat)
	authed.POST("/chats/:id/participants/:user_id", s.addParticipant)
	authed.GET("/chats/:id/messages", s.listMessages)
	authed.POST("/chats/:id/messages", s.sendMessage)

	return r
}
