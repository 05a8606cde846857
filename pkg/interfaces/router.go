package interfaces

import "context"

// MessageRouter drives one inbound unit through the send pipeline
type MessageRouter interface {
	// RouteMessage persists payload on sender's conversation and relays it to
	// every other member. A non-nil error means the caller's connection should
	// be treated as disconnected.
	RouteMessage(ctx context.Context, sender Member, payload []byte) error
}

// Broadcaster fans a payload out to a conversation's live members
type Broadcaster interface {
	// Broadcast delivers payload to every member of conversationID except
	// exclude (nil excludes nobody) and reports how many accepted it.
	// Per-member failures are never returned.
	Broadcast(conversationID string, payload []byte, exclude Member) int
}
