package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"parley/internal/websocket"
	"parley/pkg/interfaces"
)

// Hub fans a payload out to every member of a conversation. It holds no
// per-conversation state of its own; membership lives in the Registry.
type Hub struct {
	registry *websocket.Registry
	logger   *zap.Logger

	running bool
	stopCh  chan struct{}
	mu      sync.RWMutex
}

// NewHub creates a stopped hub over the given registry
func NewHub(registry *websocket.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry: registry,
		logger:   logger.Named("hub"),
	}
}

// Start marks the hub running. Cancelling ctx has the same effect as Stop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	stopCh := make(chan struct{})
	h.stopCh = stopCh
	h.mu.Unlock()

	h.logger.Info("broadcast hub started")

	go func() {
		select {
		case <-ctx.Done():
			if err := h.Stop(); err == nil {
				h.logger.Info("broadcast hub stopped by context")
			}
		case <-stopCh:
		}
	}()

	return nil
}

// Stop refuses further broadcasts and closes every joined member. Each
// member's session handler then performs its own Leave.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()

	closed := h.registry.CloseAll()
	h.logger.Info("broadcast hub stopped", zap.Int("connections_closed", closed))
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Broadcast enqueues payload on every member of conversationID except
// exclude, compared by identity. A nil exclude delivers to everyone. A
// failing member is logged and skipped. Returns the number of successful
// enqueues.
func (h *Hub) Broadcast(conversationID string, payload []byte, exclude interfaces.Member) int {
	if !h.IsRunning() {
		h.logger.Debug("broadcast while stopped", zap.String("conversation_id", conversationID))
		return 0
	}

	delivered := 0
	for _, member := range h.registry.MembersOf(conversationID) {
		if exclude != nil && member == exclude {
			continue
		}
		if err := member.Send(payload); err != nil {
			h.logger.Warn("member send failed",
				zap.String("conversation_id", conversationID),
				zap.String("connection_id", member.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}
