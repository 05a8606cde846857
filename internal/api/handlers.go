package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parley/internal/auth"
	"parley/internal/conversation"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Request/Response types for JSON serialization
type SignupRequest struct {
	Email    string  `json:"email" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Name     *string `json:"name"`
}

type SigninRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type CreateConversationRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Text           string `json:"text"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuthResponse struct {
	User UserResponse `json:"user"`
	types.TokenPair
}

type StatusResponse struct {
	Message string `json:"message"`
}

type ConversationResponse struct {
	ID              string    `json:"id"`
	CreatedBy       string    `json:"created_by"`
	UserIDs         []string  `json:"user_ids"`
	ConnectionCount int       `json:"connection_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newUserResponse(u *types.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

func (s *Server) newConversationResponse(conv *types.Conversation) ConversationResponse {
	count := 0
	if s.registry != nil {
		count = len(s.registry.MembersOf(conv.ID))
	}
	return ConversationResponse{
		ID:              conv.ID,
		CreatedBy:       conv.CreatedBy,
		UserIDs:         conv.UserIDs(),
		ConnectionCount: count,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
	}
}

// POST /api/auth/signup
func (s *Server) signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, pair, err := s.auth.Signup(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.sendServiceError(c, err, "Failed to create account")
		return
	}
	c.JSON(http.StatusCreated, AuthResponse{User: newUserResponse(user), TokenPair: *pair})
}

// POST /api/auth/signin
func (s *Server) signin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, pair, err := s.auth.Signin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.sendError(c, err.Error(), http.StatusUnauthorized)
			return
		}
		s.sendServiceError(c, err, "Failed to sign in")
		return
	}
	c.JSON(http.StatusOK, AuthResponse{User: newUserResponse(user), TokenPair: *pair})
}

// POST /api/auth/refresh
func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	pair, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if isTokenError(err) {
			s.sendError(c, "Invalid or expired refresh token", http.StatusUnauthorized)
			return
		}
		s.sendServiceError(c, err, "Failed to refresh token")
		return
	}
	c.JSON(http.StatusOK, pair)
}

// POST /api/auth/forgot-password - succeeds for unknown emails too
func (s *Server) forgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		s.logger.Error("forgot password failed", zap.Error(err))
		s.sendError(c, "Failed to send password reset email", http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Message: "If the email is registered, a reset link has been sent"})
}

// POST /api/auth/reset-password
func (s *Server) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if isTokenError(err) {
			s.sendError(c, "Invalid or expired reset token", http.StatusBadRequest)
			return
		}
		s.sendServiceError(c, err, "Failed to reset password")
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Message: "Password has been reset"})
}

// POST /api/auth/change-password
func (s *Server) changePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	err := s.auth.ChangePassword(c.Request.Context(), c.GetString(contextUserID), req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.sendError(c, "Current password is incorrect", http.StatusBadRequest)
			return
		}
		s.sendServiceError(c, err, "Failed to change password")
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Message: "Password changed"})
}

// GET /api/auth/me
func (s *Server) me(c *gin.Context) {
	user, err := s.auth.CurrentUser(c.Request.Context(), c.GetString(contextUserID))
	if err != nil {
		s.sendServiceError(c, err, "Failed to load user")
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// POST /api/auth/logout
func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), c.GetString(contextToken)); err != nil {
		s.sendServiceError(c, err, "Failed to log out")
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Message: "Logged out"})
}

// POST /api/chat/conversations
func (s *Server) createConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	conv, err := s.conversations.CreateConversation(c.Request.Context(), c.GetString(contextUserID), req.UserIDs)
	if err != nil {
		s.sendServiceError(c, err, "Failed to create conversation")
		return
	}
	c.JSON(http.StatusCreated, s.newConversationResponse(conv))
}

// GET /api/chat/conversations
func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.conversations.ListConversations(c.Request.Context(), c.GetString(contextUserID))
	if err != nil {
		s.sendServiceError(c, err, "Failed to list conversations")
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		response = append(response, s.newConversationResponse(conv))
	}
	c.JSON(http.StatusOK, response)
}

// GET /api/chat/conversations/:id
func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.conversations.GetConversation(c.Request.Context(), c.Param("id"), c.GetString(contextUserID))
	if err != nil {
		s.sendServiceError(c, err, "Failed to get conversation")
		return
	}
	c.JSON(http.StatusOK, s.newConversationResponse(conv))
}

// POST /api/chat/messages
func (s *Server) sendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid JSON", http.StatusBadRequest)
		return
	}

	msg, err := s.conversations.SendMessage(c.Request.Context(), req.ConversationID, c.GetString(contextUserID), req.Text)
	if err != nil {
		s.sendServiceError(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusCreated, msg.Response())
}

// GET /api/chat/messages/:conversationId
func (s *Server) listMessages(c *gin.Context) {
	views, err := s.conversations.ListMessages(c.Request.Context(), c.Param("conversationId"), c.GetString(contextUserID))
	if err != nil {
		s.sendServiceError(c, err, "Failed to list messages")
		return
	}
	c.JSON(http.StatusOK, views)
}

// GET /api/users
func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.sendServiceError(c, err, "Failed to list users")
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, newUserResponse(u))
	}
	c.JSON(http.StatusOK, response)
}

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, auth.ErrWrongTokenType) ||
		errors.Is(err, auth.ErrRevokedToken)
}

// sendServiceError maps domain errors to status codes. Unknown errors are
// logged and reported as 500 with fallback as the message.
func (s *Server) sendServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, interfaces.ErrConversationNotFound),
		errors.Is(err, interfaces.ErrUserNotFound):
		s.sendError(c, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrUnauthorized):
		s.sendError(c, "Not a participant of this conversation", http.StatusForbidden)
	case isTokenError(err):
		s.sendError(c, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, types.ErrInvalidEmail),
		errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInvalidContent),
		errors.Is(err, types.ErrContentTooLarge),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, conversation.ErrTooFewParticipants),
		errors.Is(err, conversation.ErrUnknownParticipant),
		errors.Is(err, conversation.ErrInvalidParticipant):
		s.sendError(c, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		s.sendError(c, fallback, http.StatusInternalServerError)
	}
}
