package api

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// AuthService is the account surface the HTTP layer calls
type AuthService interface {
	Signup(ctx context.Context, email, password string, name *string) (*types.User, *types.TokenPair, error)
	Signin(ctx context.Context, email, password string) (*types.User, *types.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Logout(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, userID string) (*types.User, error)
	Verify(token string) (string, error)
}

// ConversationService is the chat surface the HTTP layer calls
type ConversationService interface {
	CreateConversation(ctx context.Context, creatorID string, userIDs []string) (*types.Conversation, error)
	GetConversation(ctx context.Context, conversationID, requesterID string) (*types.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string) (*types.Message, error)
	ListMessages(ctx context.Context, conversationID, requesterID string) ([]types.MessageView, error)
}

// Registry exposes live connection counts without coupling to websocket.Registry
type Registry interface {
	MembersOf(conversationID string) []interfaces.Member
	GetStats() map[string]int
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type UserLister interface {
	ListUsers(ctx context.Context) ([]*types.User, error)
}

// Dependencies groups what NewServer needs. Cache is optional.
type Dependencies struct {
	Auth          AuthService
	Conversations ConversationService
	Users         UserLister
	Database      HealthChecker
	Cache         Pinger
	Registry      Registry
	CORSOrigins   []string
	Logger        *zap.Logger
}

// Server is the REST layer. It holds no business logic: it binds JSON,
// calls a service, and maps the result to a status code.
type Server struct {
	auth          AuthService
	conversations ConversationService
	users         UserLister
	database      HealthChecker
	cache         Pinger
	registry      Registry
	corsOrigins   []string
	logger        *zap.Logger
	started       time.Time
	engine        *gin.Engine
}

func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		auth:          deps.Auth,
		conversations: deps.Conversations,
		users:         deps.Users,
		database:      deps.Database,
		cache:         deps.Cache,
		registry:      deps.Registry,
		corsOrigins:   deps.CORSOrigins,
		logger:        logger.Named("api"),
		started:       time.Now(),
		engine:        gin.New(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())

	s.engine.GET("/health", s.healthCheck)

	authGroup := s.engine.Group("/api/auth")
	authGroup.POST("/signup", s.signup)
	authGroup.POST("/signin", s.signin)
	authGroup.POST("/refresh", s.refresh)
	authGroup.POST("/forgot-password", s.forgotPassword)
	authGroup.POST("/reset-password", s.resetPassword)
	authGroup.POST("/change-password", s.requireAuth(), s.changePassword)
	authGroup.GET("/me", s.requireAuth(), s.me)
	authGroup.POST("/logout", s.requireAuth(), s.logout)

	chat := s.engine.Group("/api/chat", s.requireAuth())
	chat.POST("/conversations", s.createConversation)
	chat.GET("/conversations", s.listConversations)
	chat.GET("/conversations/:id", s.getConversation)
	chat.POST("/messages", s.sendMessage)
	chat.GET("/messages/:conversationId", s.listMessages)

	s.engine.GET("/api/users", s.requireAuth(), s.listUsers)
}

// ServeHTTP lets the server be mounted on any mux
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Cache       string                 `json:"cache,omitempty"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health - 503 when a backing store is unreachable
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.database.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	cacheStatus := ""
	if s.cache != nil {
		cacheStatus = "healthy"
		if err := s.cache.Ping(ctx); err != nil {
			status = "unhealthy"
			cacheStatus = "error: " + err.Error()
		}
	}

	var connections map[string]int
	if s.registry != nil {
		connections = s.registry.GetStats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Cache:       cacheStatus,
		Connections: connections,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// Consistent error response format
func (s *Server) sendError(c *gin.Context, message string, code int) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

const (
	contextUserID = "user_id"
	contextToken  = "token"
)

// requireAuth verifies the bearer access token and stores the caller's id
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			s.sendError(c, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(header[7:])

		userID, err := s.auth.Verify(token)
		if err != nil {
			s.sendError(c, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		c.Set(contextUserID, userID)
		c.Set(contextToken, token)
		c.Next()
	}
}

// corsMiddleware allows the configured origins; an empty list or "*" allows all
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowAll := len(s.corsOrigins) == 0
	allowed := make(map[string]bool, len(s.corsOrigins))
	for _, origin := range s.corsOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
