package interfaces

import (
	"context"

	"parley/pkg/types"
)

// MessageStore is the durable, append-only message log keyed by conversation.
// Every failure is reported as (or wraps) ErrStoreUnavailable unless it is a
// more specific sentinel from this package.
type MessageStore interface {
	// AppendMessage persists one message and returns it with its server-side
	// id and timestamps. senderID is nil for anonymous senders.
	AppendMessage(ctx context.Context, conversationID string, senderID *string, content string) (*types.Message, error)

	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*types.Message, error)
}

// UserStore persists accounts
type UserStore interface {
	// CreateUser inserts a user, returning types.ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, user *types.User) error

	// GetUserByEmail looks up a normalized address. Returns ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	// GetUserByID returns ErrUserNotFound when absent.
	GetUserByID(ctx context.Context, userID string) (*types.User, error)

	// UpdateUserPassword replaces the stored bcrypt hash.
	UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error

	// ListUsers returns all accounts ordered by creation time.
	ListUsers(ctx context.Context) ([]*types.User, error)
}

// ConversationStore persists conversations and their participant rows
type ConversationStore interface {
	// CreateConversation inserts the conversation and its members atomically.
	CreateConversation(ctx context.Context, conversation *types.Conversation) error

	// GetConversation returns the conversation with members preloaded,
	// or ErrConversationNotFound.
	GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error)

	// ListConversationsForUser returns every conversation userID participates in,
	// newest activity first.
	ListConversationsForUser(ctx context.Context, userID string) ([]*types.Conversation, error)

	// ListMemberships returns every (conversation, user) pair. Used to warm caches.
	ListMemberships(ctx context.Context) ([]types.ConversationMember, error)
}

// DatabaseManager is the full persistence surface owned by the application
type DatabaseManager interface {
	MessageStore
	UserStore
	ConversationStore

	// HealthCheck pings the underlying connection pool.
	HealthCheck(ctx context.Context) error

	// Close drains pending writes and closes the pool.
	Close() error
}
