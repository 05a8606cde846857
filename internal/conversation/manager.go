package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Store is the persistence surface the manager needs
type Store interface {
	interfaces.MessageStore
	interfaces.ConversationStore
	GetUserByID(ctx context.Context, userID string) (*types.User, error)
}

// Manager owns conversations and their history. It implements
// interfaces.ConversationDirectory over an in-memory membership cache;
// membership never changes after creation, so cached entries stay valid.
type Manager struct {
	store       Store
	broadcaster interfaces.Broadcaster
	logger      *zap.Logger

	members map[string]map[string]struct{} // conversationID -> userIDs
	mu      sync.RWMutex
}

// NewManager creates a conversation manager. broadcaster may be nil, in which
// case REST-created messages are only persisted.
func NewManager(store Store, broadcaster interfaces.Broadcaster, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.Named("conversation"),
		members:     make(map[string]map[string]struct{}),
	}
}

// RefreshCache replaces the membership cache with what the store holds
func (m *Manager) RefreshCache(ctx context.Context) error {
	rows, err := m.store.ListMemberships(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh membership cache: %w", err)
	}

	fresh := make(map[string]map[string]struct{})
	for _, row := range rows {
		set, ok := fresh[row.ConversationID]
		if !ok {
			set = make(map[string]struct{})
			fresh[row.ConversationID] = set
		}
		set[row.UserID] = struct{}{}
	}

	m.mu.Lock()
	m.members = fresh
	m.mu.Unlock()

	m.logger.Info("membership cache refreshed", zap.Int("conversations", len(fresh)))
	return nil
}

// CreateConversation starts a conversation between creatorID and userIDs.
// Duplicates are removed and the creator is always a participant.
func (m *Manager) CreateConversation(ctx context.Context, creatorID string, userIDs []string) (*types.Conversation, error) {
	if !types.IsValidID(creatorID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidParticipant, creatorID)
	}

	participants := removeDuplicates(append([]string{creatorID}, userIDs...))
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}

	for _, userID := range participants {
		if !types.IsValidID(userID) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParticipant, userID)
		}
		if _, err := m.store.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, interfaces.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, userID)
			}
			return nil, err
		}
	}

	conversation := &types.Conversation{
		ID:        uuid.New().String(),
		CreatedBy: creatorID,
		Members:   make([]types.ConversationMember, 0, len(participants)),
	}
	for _, userID := range participants {
		conversation.Members = append(conversation.Members, types.ConversationMember{
			ConversationID: conversation.ID,
			UserID:         userID,
		})
	}

	if err := m.store.CreateConversation(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	m.cache(conversation)

	m.logger.Info("conversation created",
		zap.String("conversation_id", conversation.ID),
		zap.String("created_by", creatorID),
		zap.Int("participants", len(participants)),
	)
	return conversation, nil
}

// GetConversation returns the conversation if requesterID participates in it
func (m *Manager) GetConversation(ctx context.Context, conversationID, requesterID string) (*types.Conversation, error) {
	conversation, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m.cache(conversation)

	for _, userID := range conversation.UserIDs() {
		if userID == requesterID {
			return conversation, nil
		}
	}
	return nil, interfaces.ErrUnauthorized
}

// ListConversations returns every conversation userID participates in
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	return m.store.ListConversationsForUser(ctx, userID)
}

// Exists reports whether the conversation has been created
func (m *Manager) Exists(ctx context.Context, conversationID string) (bool, error) {
	if _, cached := m.lookup(conversationID); cached {
		return true, nil
	}

	_, err := m.load(ctx, conversationID)
	if errors.Is(err, interfaces.ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MembersAuthorized reports whether userID is a participant. Unknown
// conversations authorize nobody.
func (m *Manager) MembersAuthorized(ctx context.Context, conversationID, userID string) (bool, error) {
	set, cached := m.lookup(conversationID)
	if !cached {
		var err error
		set, err = m.load(ctx, conversationID)
		if errors.Is(err, interfaces.ErrConversationNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	_, ok := set[userID]
	return ok, nil
}

// SendMessage persists a REST-submitted message and pushes it to every live
// socket in the conversation, the sender's own sockets included.
func (m *Manager) SendMessage(ctx context.Context, conversationID, senderID, content string) (*types.Message, error) {
	if err := m.authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	if err := types.ValidateContent(content); err != nil {
		return nil, err
	}

	message, err := m.store.AppendMessage(ctx, conversationID, &senderID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if m.broadcaster != nil {
		payload, err := json.Marshal(message.Response())
		if err != nil {
			m.logger.Error("failed to encode message", zap.String("message_id", message.ID), zap.Error(err))
			return message, nil
		}
		delivered := m.broadcaster.Broadcast(conversationID, payload, nil)
		m.logger.Debug("message pushed",
			zap.String("conversation_id", conversationID),
			zap.Int("recipients", delivered),
		)
	}
	return message, nil
}

// ListMessages returns the history oldest first, labelled relative to requesterID
func (m *Manager) ListMessages(ctx context.Context, conversationID, requesterID string) ([]types.MessageView, error) {
	if err := m.authorize(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	messages, err := m.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	views := make([]types.MessageView, 0, len(messages))
	for _, message := range messages {
		views = append(views, message.ViewFor(requesterID))
	}
	return views, nil
}

// GetStats returns cache statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"cached_conversations": len(m.members),
	}
}

func (m *Manager) authorize(ctx context.Context, conversationID, userID string) error {
	exists, err := m.Exists(ctx, conversationID)
	if err != nil {
		return err
	}
	if !exists {
		return interfaces.ErrConversationNotFound
	}
	allowed, err := m.MembersAuthorized(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return interfaces.ErrUnauthorized
	}
	return nil
}

func (m *Manager) lookup(conversationID string) (map[string]struct{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.members[conversationID]
	return set, ok
}

func (m *Manager) load(ctx context.Context, conversationID string) (map[string]struct{}, error) {
	conversation, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return m.cache(conversation), nil
}

func (m *Manager) cache(conversation *types.Conversation) map[string]struct{} {
	set := make(map[string]struct{}, len(conversation.Members))
	for _, userID := range conversation.UserIDs() {
		set[userID] = struct{}{}
	}

	m.mu.Lock()
	m.members[conversation.ID] = set
	m.mu.Unlock()
	return set
}

func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(ids))

	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	return unique
}
