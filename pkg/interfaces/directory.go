package interfaces

import (
	"context"

	"parley/pkg/types"
)

// ConversationDirectory answers membership questions before a connection joins
type ConversationDirectory interface {
	Exists(ctx context.Context, conversationID string) (bool, error)
	MembersAuthorized(ctx context.Context, conversationID string, userID string) (bool, error)
}

// AuthGateway validates bearer tokens and resolves identities.
// The real-time core only consumes it and never issues tokens.
type AuthGateway interface {
	// Verify returns the user id carried by a valid, unrevoked access token.
	Verify(token string) (string, error)

	// Resolve loads the profile for userID, or ErrUserNotFound.
	Resolve(ctx context.Context, userID string) (*types.User, error)
}
