package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parley/pkg/interfaces"
)

// Options tunes the send pipeline
type Options struct {
	// RateLimitPerMinute caps messages per sender. Zero disables the limit.
	RateLimitPerMinute int

	// PersistTimeout bounds each AppendMessage call
	PersistTimeout time.Duration

	// RequirePersist drops a message instead of broadcasting it when the
	// store append fails.
	RequirePersist bool
}

// DefaultOptions mirrors config.DefaultConfig().WebSocket
func DefaultOptions() Options {
	return Options{
		PersistTimeout: 5 * time.Second,
	}
}

// Router implements interfaces.MessageRouter: rate limit, persist, then fan
// out to the rest of the conversation.
type Router struct {
	store       interfaces.MessageStore
	broadcaster interfaces.Broadcaster
	rateLimiter *RateLimiter
	options     Options
	logger      *zap.Logger
}

// NewRouter creates a new message router. store may be nil, in which case
// nothing is persisted.
func NewRouter(store interfaces.MessageStore, broadcaster interfaces.Broadcaster, options Options, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.PersistTimeout <= 0 {
		options.PersistTimeout = DefaultOptions().PersistTimeout
	}
	return &Router{
		store:       store,
		broadcaster: broadcaster,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute, time.Minute),
		options:     options,
		logger:      logger.Named("router"),
	}
}

// RouteMessage runs one inbound unit through the pipeline. Rate limiting and
// store failures are absorbed here; the only error returned is the sender's
// context ending, which the session handler treats as a disconnect.
func (r *Router) RouteMessage(ctx context.Context, sender interfaces.Member, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conversationID := sender.ConversationID()
	log := r.logger.With(
		zap.String("conversation_id", conversationID),
		zap.String("connection_id", sender.ID()),
	)

	if !r.rateLimiter.Allow(rateKey(sender)) {
		log.Warn("message dropped", zap.Error(ErrRateLimitExceeded))
		return nil
	}

	if err := r.persist(ctx, sender, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Error("message persistence failed", zap.Error(err))
		if r.options.RequirePersist {
			log.Warn("message dropped", zap.Error(ErrPersistFailed))
			return nil
		}
	}

	delivered := r.broadcaster.Broadcast(conversationID, payload, sender)
	log.Debug("message relayed", zap.Int("recipients", delivered))
	return nil
}

func (r *Router) persist(ctx context.Context, sender interfaces.Member, payload []byte) error {
	if r.store == nil {
		return nil
	}

	var senderID *string
	if uid := sender.UserID(); uid != "" {
		senderID = &uid
	}

	persistCtx, cancel := context.WithTimeout(ctx, r.options.PersistTimeout)
	defer cancel()

	if _, err := r.store.AppendMessage(persistCtx, sender.ConversationID(), senderID, string(payload)); err != nil {
		if errors.Is(err, interfaces.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// CleanupRateLimits forgets idle senders. The application calls it on a ticker.
func (r *Router) CleanupRateLimits() int {
	return r.rateLimiter.Cleanup()
}

// Anonymous senders have no user id, so each connection gets its own budget.
func rateKey(sender interfaces.Member) string {
	if uid := sender.UserID(); uid != "" {
		return "user:" + uid
	}
	return "conn:" + sender.ID()
}
