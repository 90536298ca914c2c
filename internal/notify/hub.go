// Package notify fans out per-user events to connected clients and keeps a short
// history of forecast notifications.
package notify

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Message types.
const (
	TypeForecast = "forecast"
)

// Message is delivered to subscribers of a user.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"-"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is what the forecast monitor hands over after a check.
type Notification struct {
	UserID string
	City   string
	Title  string
	Body   string
	Data   any
}

const subscriberBuffer = 64

// Hub keeps subscriber channels per user.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message // user id -> subscription id -> channel
	recent      map[string][]Message
	historySize int
	logger      *zap.Logger
	now         func() time.Time
}

// NewHub creates a hub remembering the last historySize forecast messages per user.
func NewHub(historySize int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Message),
		recent:      make(map[string][]Message),
		historySize: historySize,
		logger:      logger,
		now:         time.Now,
	}
}

// Subscribe registers a new client of userID and returns its id and channel.
func (h *Hub) Subscribe(userID string) (string, <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := ulid.Make().String()
	ch := make(chan Message, subscriberBuffer)
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[string]chan Message)
		h.subscribers[userID] = subs
	}
	subs[id] = ch

	h.logger.Debug("subscriber connected", zap.String("user", userID), zap.Int("total", len(subs)))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(userID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[userID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	}
	h.logger.Debug("subscriber disconnected", zap.String("user", userID))
}

// DisconnectUser closes every subscription of a user.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers[userID] {
		close(ch)
		delete(h.subscribers[userID], id)
	}
	delete(h.subscribers, userID)
}

// SubscriberCount returns the number of open subscriptions of a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// Publish sends msg to every subscriber of msg.UserID. Slow subscribers miss messages
// instead of blocking the publisher.
func (h *Hub) Publish(msg Message) Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Type == TypeForecast && h.historySize > 0 {
		hist := append(h.recent[msg.UserID], msg)
		if len(hist) > h.historySize {
			hist = hist[len(hist)-h.historySize:]
		}
		h.recent[msg.UserID] = hist
	}

	for id, ch := range h.subscribers[msg.UserID] {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("subscriber channel full, dropping message",
				zap.String("user", msg.UserID),
				zap.String("subscription", id),
				zap.String("type", msg.Type))
		}
	}
	return msg
}

// Notify publishes a forecast notification.
func (h *Hub) Notify(n Notification) {
	h.Publish(Message{
		Type:   TypeForecast,
		UserID: n.UserID,
		Title:  n.Title,
		Body:   n.Body,
		Data:   n.Data,
	})
}

// Recent returns the remembered forecast messages of a user, newest last.
func (h *Hub) Recent(userID string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Message(nil), h.recent[userID]...)
}

// Forget drops the remembered messages of a user.
func (h *Hub) Forget(userID string) {
	h.mu.Lock()
	delete(h.recent, userID)
	h.mu.Unlock()
}
