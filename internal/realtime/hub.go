package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castline/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	sendBuffer   = 64
)

// RedisPublisher publishes organization events for every instance.
type RedisPublisher interface {
	PublishOrganizationEvent(orgID, event string, payload []byte) error
}

// RedisSubscriber subscribes to organization channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeOrganization(orgID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains organization_id -> set of connections. With Redis configured
// an event is only published, and each instance's subscription delivers it to
// its own clients, so every client sees it exactly once.
type Hub struct {
	rooms    map[string]map[string]*Client
	subs     map[string]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its organization room. The first client of a room
// starts the Redis subscription outside the hub lock; if it cannot be started
// the client is refused and the next Register tries again.
func (h *Hub) Register(c *Client) error {
	orgID := c.OrganizationID
	var pending func()
	for {
		h.mu.Lock()
		if h.redisSub == nil || h.subs[orgID] != nil || pending != nil {
			var extra func()
			if pending != nil {
				if h.subs[orgID] == nil {
					h.subs[orgID] = pending
				} else {
					extra = pending
				}
			}
			if h.rooms[orgID] == nil {
				h.rooms[orgID] = make(map[string]*Client)
			}
			h.rooms[orgID][c.ID] = c
			h.mu.Unlock()
			if extra != nil {
				extra()
			}
			break
		}
		h.mu.Unlock()

		cancel, err := h.redisSub.SubscribeOrganization(orgID, func(event string, payload []byte) {
			h.Broadcast(orgID, event, json.RawMessage(payload))
		})
		if err != nil {
			h.logger.Warn("redis subscribe failed", zap.String("organization_id", orgID), zap.Error(err))
			return fmt.Errorf("subscribe organization %s: %w", orgID, err)
		}
		pending = cancel
	}
	metrics.ConnectionOpened()
	h.logger.Debug("client joined organization", zap.String("client_id", c.ID), zap.String("organization_id", orgID))
	return nil
}

// Unregister removes a client and closes its send channel. Cancels the Redis subscription when the room empties.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.OrganizationID]
	if ok {
		if _, present := room[c.ID]; !present {
			h.mu.Unlock()
			return
		}
		delete(room, c.ID)
		close(c.send)
		if len(room) == 0 {
			delete(h.rooms, c.OrganizationID)
			if cancel, ok := h.subs[c.OrganizationID]; ok {
				cancel()
				delete(h.subs, c.OrganizationID)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		metrics.ConnectionClosed()
	}
	h.logger.Debug("client left organization", zap.String("client_id", c.ID), zap.String("organization_id", c.OrganizationID))
}

// Broadcast sends a message to this instance's clients of orgID.
func (h *Hub) Broadcast(orgID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[orgID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, dropping event", zap.String("client_id", c.ID), zap.String("event", event))
		}
	}
}

// PublishToOrganization delivers an event to every client of orgID on every instance.
func (h *Hub) PublishToOrganization(orgID, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(orgID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishOrganizationEvent(orgID, event, data); err != nil {
		h.logger.Warn("redis publish failed, delivering locally", zap.String("organization_id", orgID), zap.Error(err))
		h.Broadcast(orgID, event, json.RawMessage(data))
	}
}

// ConnectionCount returns the number of this instance's clients watching orgID.
func (h *Hub) ConnectionCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orgID])
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
