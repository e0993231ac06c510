package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"parley/internal/chat"
	"parley/internal/realtime"
	"parley/internal/search"
	"parley/internal/user"
	"parley/pkg/errors"
)

// Authenticator verifies a bearer token and resolves it to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID, username string, err error)
}

// Server is the thin HTTP collaborator around the core services. Realtime
// traffic enters through /ws; everything else is conventional
// request/response.
type Server struct {
	router *gin.Engine
	users  *user.Service
	chats  *chat.Service
	search *search.Gateway
	hub    *realtime.Hub
}

func NewServer(users *user.Service, chats *chat.Service, searchGW *search.Gateway, hub *realtime.Hub) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Logger())

	s := &Server{
		router: router,
		users:  users,
		chats:  chats,
		search: searchGW,
		hub:    hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	api.POST("/users/register", s.register)
	api.POST("/users/login", s.login)

	authed := api.Group("/")
	authed.Use(AuthMiddleware(s.users))
	{
		authed.GET("/users/profile", s.profile)
		authed.GET("/users/search", s.searchUsers)

		authed.GET("/conversations", s.listConversations)
		authed.POST("/conversations", s.createConversation)
		authed.GET("/conversations/search", s.searchAllMessages)
		authed.GET("/conversations/:id/messages", s.listMessages)
		authed.POST("/conversations/:id/read", s.markConversationRead)
		authed.GET("/conversations/:id/search", s.searchConversation)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) register(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	result, err := s.users.Register(c.Request.Context(), user.RegisterInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":       result.User.ID,
			"username": result.User.Username,
			"email":    result.User.Email,
			"token":    result.Token,
		},
	})
}

func (s *Server) login(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	result, err := s.users.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"id":       result.User.ID,
			"username": result.User.Username,
			"email":    result.User.Email,
			"token":    result.Token,
		},
	})
}

func (s *Server) profile(c *gin.Context) {
	u, err := s.users.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": u})
}

func (s *Server) searchUsers(c *gin.Context) {
	users, err := s.users.Search(c.Request.Context(), currentUserID(c), c.Query("query"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": users})
}

func (s *Server) listConversations(c *gin.Context) {
	summaries, err := s.chats.ListConversations(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": summaries})
}

func (s *Server) createConversation(c *gin.Context) {
	var input struct {
		ReceiverID string `json:"receiverId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "receiver ID is required"})
		return
	}

	conv, created, err := s.chats.FindOrCreatePrivate(c.Request.Context(), currentUserID(c), input.ReceiverID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"success": true,
		"data": gin.H{
			"id":            conv.ID,
			"lastMessageAt": conv.LastMessageAt,
		},
		"isNew": created,
	})
}

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.chats.ListMessages(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": messages})
}

func (s *Server) markConversationRead(c *gin.Context) {
	notices, err := s.chats.MarkConversationRead(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"markedCount": len(notices)},
	})
}

func (s *Server) searchConversation(c *gin.Context) {
	query := c.Query("query")
	results, err := s.search.SearchConversation(c.Request.Context(), currentUserID(c), c.Param("id"), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"data":         results,
		"query":        query,
		"totalResults": len(results),
	})
}

func (s *Server) searchAllMessages(c *gin.Context) {
	query := c.Query("query")
	groups, err := s.search.SearchAll(c.Request.Context(), currentUserID(c), query)
	if err != nil {
		respondError(c, err)
		return
	}

	total := 0
	for _, group := range groups {
		total += group.TotalMessages
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"data":               groups,
		"query":              query,
		"totalConversations": len(groups),
		"totalMessages":      total,
	})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeAlreadyExists:
		status = http.StatusConflict
	case errors.CodePermissionDenied:
		status = http.StatusForbidden
	case errors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case errors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": false, "message": errors.MessageOf(err)})
}
