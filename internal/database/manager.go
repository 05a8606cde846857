package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbconfig "parley/pkg/database"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const defaultWriteTimeout = 30 * time.Second

// Manager implements interfaces.DatabaseManager on top of gorm.
// Reads run concurrently on the pool. Writes are funneled through a single
// goroutine so SQLite never sees competing writers.
type Manager struct {
	db           *gorm.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	writeTimeout time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(tx *gorm.DB) error
	result    chan error
}

// NewManager opens the configured database and starts the writer goroutine.
// Schema migration is the caller's job.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDB(db, config, logger), nil
}

// NewManagerWithDB wraps an already-open gorm handle
func NewManagerWithDB(db *gorm.DB, config *dbconfig.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100),
		writeTimeout: defaultWriteTimeout,
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db.WithContext(op.ctx))
			if err != nil {
				m.logger.Warn("database write failed", zap.Error(err))
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for the writer goroutine to run it
func (m *Manager) executeWrite(ctx context.Context, operation func(tx *gorm.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", interfaces.ErrStoreUnavailable)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("%w: write operation timeout", interfaces.ErrStoreUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, ctx.Err())
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", interfaces.ErrStoreUnavailable)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, ctx.Err())
	case <-m.shutdown:
		// The writer may have finished this operation just before exiting.
		select {
		case err := <-result:
			return err
		default:
		}
		return fmt.Errorf("%w: database manager is shutting down", interfaces.ErrStoreUnavailable)
	}
}

// AppendMessage persists one message with a server-generated id
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, senderID *string, content string) (*types.Message, error) {
	now := time.Now().UTC()
	message := &types.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := m.executeWrite(ctx, func(tx *gorm.DB) error {
		return tx.Create(message).Error
	})
	if err != nil {
		return nil, classify("append message", err)
	}
	return message, nil
}

// ListMessages returns a conversation's history oldest first
func (m *Manager) ListMessages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := m.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, classify("list messages", err)
	}
	return messages, nil
}

// CreateUser inserts an account. A taken email surfaces as types.ErrDuplicate.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	err := m.executeWrite(ctx, func(tx *gorm.DB) error {
		return tx.Create(user).Error
	})
	return classify("create user", err)
}

func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	err := m.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, classify("get user by email", err)
	}
	return &user, nil
}

func (m *Manager) GetUserByID(ctx context.Context, userID string) (*types.User, error) {
	var user types.User
	err := m.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, classify("get user by id", err)
	}
	return &user, nil
}

func (m *Manager) UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error {
	err := m.executeWrite(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&types.User{}).Where("id = ?", userID).Update("password_hash", passwordHash)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return interfaces.ErrUserNotFound
		}
		return nil
	})
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return err
	}
	return classify("update user password", err)
}

func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	var users []*types.User
	if err := m.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

// CreateConversation inserts the conversation and its member rows in one transaction
func (m *Manager) CreateConversation(ctx context.Context, conversation *types.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	err := m.executeWrite(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			members := conversation.Members
			conversation.Members = nil
			if err := tx.Create(conversation).Error; err != nil {
				return err
			}
			for i := range members {
				members[i].ConversationID = conversation.ID
			}
			if len(members) > 0 {
				if err := tx.Create(&members).Error; err != nil {
					return err
				}
			}
			conversation.Members = members
			return nil
		})
	})
	return classify("create conversation", err)
}

// GetConversation loads a conversation with its members
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var conversation types.Conversation
	err := m.db.WithContext(ctx).
		Preload("Members").
		Where("id = ?", conversationID).
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrConversationNotFound
	}
	if err != nil {
		return nil, classify("get conversation", err)
	}
	return &conversation, nil
}

func (m *Manager) ListConversationsForUser(ctx context.Context, userID string) ([]*types.Conversation, error) {
	memberOf := m.db.Model(&types.ConversationMember{}).
		Select("conversation_id").
		Where("user_id = ?", userID)

	var conversations []*types.Conversation
	err := m.db.WithContext(ctx).
		Preload("Members").
		Where("id IN (?)", memberOf).
		Order("updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, classify("list conversations", err)
	}
	return conversations, nil
}

func (m *Manager) ListMemberships(ctx context.Context) ([]types.ConversationMember, error) {
	var members []types.ConversationMember
	if err := m.db.WithContext(ctx).Find(&members).Error; err != nil {
		return nil, classify("list memberships", err)
	}
	return members, nil
}

// HealthCheck validates connectivity and that a trivial query runs
func (m *Manager) HealthCheck(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("database handle unavailable: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var one int
	if err := m.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the gorm handle for migrations
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Close stops the writer goroutine, then closes the pool. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// classify maps driver errors onto the shared sentinels
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return fmt.Errorf("%s: %w", op, types.ErrDuplicate)
	}
	if errors.Is(err, interfaces.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, interfaces.ErrStoreUnavailable, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
