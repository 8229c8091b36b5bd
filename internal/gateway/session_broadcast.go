package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// subscriberQueueSize bounds each subscriber's send queue. A subscriber that
// cannot drain this many events is considered lagging and is dropped so slow
// consumers never block fast ones.
const subscriberQueueSize = 64

// SessionEvent is one fan-out item published to a session's subscribers.
type SessionEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SessionSubscriber receives the event stream for one session over a bounded
// queue. Events() is closed when the subscriber is dropped or unsubscribed.
type SessionSubscriber struct {
	id     string
	ch     chan SessionEvent
	closed sync.Once
}

// Events returns the subscriber's event stream.
func (s *SessionSubscriber) Events() <-chan SessionEvent {
	return s.ch
}

func (s *SessionSubscriber) close() {
	s.closed.Do(func() { close(s.ch) })
}

// SessionBroadcaster fans events out to every live subscriber of one session.
type SessionBroadcaster struct {
	sessionID string
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[*SessionSubscriber]struct{}
}

// Subscribe registers a new subscriber.
func (b *SessionBroadcaster) Subscribe() *SessionSubscriber {
	sub := &SessionSubscriber{
		id: uuid.NewString(),
		ch: make(chan SessionEvent, subscriberQueueSize),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its stream.
func (b *SessionBroadcaster) Unsubscribe(sub *SessionSubscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber without blocking. Subscribers
// whose queue is full are dropped as lagging. Returns how many subscribers
// received the event.
func (b *SessionBroadcaster) Publish(event SessionEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			delete(b.subs, sub)
			sub.close()
			if b.logger != nil {
				b.logger.Warn("dropping lagging session subscriber",
					"session_id", b.sessionID, "subscriber", sub.id)
			}
		}
	}
	return delivered
}

// SubscriberCount returns the number of live subscribers.
func (b *SessionBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SessionBroadcasterRegistry holds at most one broadcaster per session,
// created lazily on first subscribe or publish.
type SessionBroadcasterRegistry struct {
	logger *slog.Logger

	mu   sync.Mutex
	byID map[string]*SessionBroadcaster
}

// NewSessionBroadcasterRegistry creates an empty registry.
func NewSessionBroadcasterRegistry(logger *slog.Logger) *SessionBroadcasterRegistry {
	return &SessionBroadcasterRegistry{
		logger: logger,
		byID:   make(map[string]*SessionBroadcaster),
	}
}

// Get returns the broadcaster for a session, creating it lazily.
func (r *SessionBroadcasterRegistry) Get(sessionID string) *SessionBroadcaster {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[sessionID]
	if !ok {
		b = &SessionBroadcaster{
			sessionID: sessionID,
			logger:    r.logger,
			subs:      make(map[*SessionSubscriber]struct{}),
		}
		r.byID[sessionID] = b
	}
	return b
}

// Publish fans an event out to the session's subscribers. Returns how many
// subscribers received it; zero means nobody is listening and the caller
// should leave the corresponding pending result undelivered.
func (r *SessionBroadcasterRegistry) Publish(sessionID, event string, data any) int {
	return r.Get(sessionID).Publish(SessionEvent{Event: event, Data: data})
}

// Prune removes broadcasters with no subscribers to keep the registry from
// growing unboundedly across many short-lived sessions.
func (r *SessionBroadcasterRegistry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.byID {
		if b.SubscriberCount() == 0 {
			delete(r.byID, id)
		}
	}
}

// apiChannelAdapter is the outbound adapter for the "api" channel: instead of
// a chat platform, delivery is a fan-out to the session's WebSocket
// subscribers. Registering it lets the normal message-processing path treat
// direct WS/HTTP conversations like any other channel.
type apiChannelAdapter struct {
	events *SessionBroadcasterRegistry
}

func (a *apiChannelAdapter) Type() models.ChannelType {
	return models.ChannelAPI
}

func (a *apiChannelAdapter) Send(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	a.events.Publish(msg.SessionID, "chat_message", msg)
	return nil
}
