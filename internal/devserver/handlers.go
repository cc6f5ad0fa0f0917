package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

const userKey = "user_id"

// Handler returns the HTTP handler serving the API, channel authorization
// and the Pusher socket.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.requestLogger())
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("handler panic", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
	}))
	if len(s.cfg.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.cfg.AllowOrigins
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Socket-ID"}
		corsConfig.AllowCredentials = true
		router.Use(cors.New(corsConfig))
	}

	router.GET("/app/:key", s.handleSocket)

	api := router.Group("/api")
	if s.cfg.RateLimit > 0 {
		api.Use(rateLimit(limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: s.cfg.RateLimit})))
	}
	api.POST("/login", s.handleLogin)
	api.POST("/dev/chats/:id/messages", s.handleInject)

	authed := api.Group("", s.requireAuth())
	authed.GET("/chats", s.handleListChats)
	authed.GET("/chats/:id/messages", s.handleListMessages)
	authed.POST("/chats/:id/messages", s.handleSend)
	authed.POST("/chats/:id/read", s.handleRead)

	router.POST("/broadcasting/auth", s.requireAuth(), s.handleChannelAuth)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func rateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		lc, err := l.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "rate limiter error"})
			return
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", lc.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", lc.Remaining))
		if lc.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too Many Attempts."})
			return
		}
		c.Next()
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
			return
		}
		claims, err := s.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
			return
		}
		c.Set(userKey, claims.UserID)
		c.Next()
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "The user id field is required."})
		return
	}
	token, err := s.IssueToken(req.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "These credentials do not match our records."})
		return
	}
	u, _ := s.user(req.UserID)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

func (s *Server) handleListChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.ChatsFor(c.GetInt64(userKey))})
}

func (s *Server) handleListMessages(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}
	msgs, err := s.Messages(c.GetInt64(userKey), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	// Paginated like a Laravel resource collection.
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"data":         msgs,
		"current_page": 1,
		"total":        len(msgs),
	}})
}

func (s *Server) handleSend(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}
	var (
		content, clientID string
		files             []Attachment
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "Invalid form data."})
			return
		}
		content = c.PostForm("content")
		clientID = c.PostForm("client_id")
		for _, fh := range form.File["attachments[]"] {
			files = append(files, Attachment{
				FileName: fh.Filename,
				FileSize: fh.Size,
				FileType: fh.Header.Get("Content-Type"),
			})
		}
	} else {
		var req struct {
			Content  string `json:"content"`
			ClientID string `json:"client_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "Invalid JSON body."})
			return
		}
		content, clientID = req.Content, req.ClientID
	}

	m, err := s.Post(c.GetInt64(userKey), chatID, content, clientID, files)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (s *Server) handleRead(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}
	if err := s.MarkRead(c.GetInt64(userKey), chatID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleInject lets a developer post as any member without a token.
func (s *Server) handleInject(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}
	var req struct {
		UserID  int64  `json:"user_id" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "user_id and content are required."})
		return
	}
	m, err := s.Inject(chatID, req.UserID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (s *Server) handleChannelAuth(c *gin.Context) {
	socketID := c.PostForm("socket_id")
	channel := c.PostForm("channel_name")
	chatID, ok := channelChat(channel)
	if socketID == "" || !ok {
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
		return
	}
	if !s.isMember(c.GetInt64(userKey), chatID) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth": s.channelSignature(socketID, channel)})
}

func (s *Server) handleSocket(c *gin.Context) {
	if c.Param("key") != s.cfg.AppKey {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown app key"})
		return
	}
	s.hub.serve(c.Writer, c.Request)
}

func chatParam(c *gin.Context) (int64, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found."})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownChat):
		c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found."})
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrUnknownUser):
		c.JSON(http.StatusForbidden, gin.H{"message": "This action is unauthorized."})
	case errors.Is(err, ErrEmpty):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "The content field is required when attachments is not present."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
	}
}
