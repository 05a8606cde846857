package interfaces

// Member is one live real-time channel joined to a conversation.
// Implementations must make Send and Close safe for concurrent use.
type Member interface {
	// ID uniquely identifies this connection for its whole lifetime.
	// Two connections from the same user have different ids.
	ID() string

	// ConversationID is the conversation this member joined on accept.
	// It never changes.
	ConversationID() string

	// UserID is the sender identity attached to persisted messages.
	// Empty means the connection is anonymous.
	UserID() string

	// Send queues payload for delivery without blocking the caller.
	// It returns an error when the payload was not accepted (queue full under
	// the drop-newest policy, or connection closed).
	Send(payload []byte) error

	// Close releases the underlying transport. Safe to call more than once.
	Close() error
}
